package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToken completes when done is closed.
type fakeToken struct {
	done chan struct{}
	err  error
}

func completed(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakePublisher struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
	token    mqtt.Token
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.topic, p.qos, p.retained = topic, qos, retained
	p.payload, _ = payload.([]byte)
	return p.token
}

func TestMQTT_SendAlert(t *testing.T) {
	pub := &fakePublisher{token: completed(nil)}
	m := newMQTT(MQTTConfig{QoS: 1, Retained: true, Logger: quietLogger()}, pub)

	require.NoError(t, m.SendAlert(context.Background(), sampleAlert()))
	assert.Equal(t, DefaultMQTTTopic, pub.topic)
	assert.Equal(t, byte(1), pub.qos)
	assert.True(t, pub.retained)

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.payload, &got))
	assert.Equal(t, "evt-1", got["id"])
	assert.Equal(t, "severe", got["severity"])
	assert.Equal(t, "Severe fall detected", got["title"])
	assert.Equal(t, "mqtt", m.Name())
}

func TestMQTT_PublishError(t *testing.T) {
	pub := &fakePublisher{token: completed(errors.New("not connected"))}
	m := newMQTT(MQTTConfig{Topic: "home/fall", Logger: quietLogger()}, pub)

	err := m.SendAlert(context.Background(), sampleAlert())
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "mqtt", pe.Provider)
	assert.Contains(t, err.Error(), "home/fall")
}

func TestMQTT_ContextCancelled(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{done: make(chan struct{})}}
	m := newMQTT(MQTTConfig{Logger: quietLogger()}, pub)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.SendAlert(ctx, sampleAlert())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewMQTT_RequiresBroker(t *testing.T) {
	_, err := NewMQTT(MQTTConfig{})
	assert.ErrorIs(t, err, ErrMissingRecipient)
}
