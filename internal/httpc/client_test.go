package httpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPostJSON(t *testing.T) {
	var got struct {
		Name string `json:"name"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer s3cret" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	resp, err := PostJSON(context.Background(), nil, srv.URL, map[string]string{"name": "fall"},
		map[string]string{"Authorization": "Bearer s3cret"})
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
	if got.Name != "fall" {
		t.Errorf("body name = %q, want fall", got.Name)
	}
}

func TestPostJSON_Errors(t *testing.T) {
	if _, err := PostJSON(context.Background(), nil, "http://localhost", make(chan int), nil); err == nil {
		t.Error("expected marshal error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := PostJSON(ctx, NewClient(time.Second), "http://127.0.0.1:1", struct{}{}, nil); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestNewClient(t *testing.T) {
	c := NewClient(5 * time.Second)
	if c.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", c.Timeout)
	}
	if Client.Timeout != DefaultTimeout {
		t.Errorf("shared client timeout = %v, want %v", Client.Timeout, DefaultTimeout)
	}
}
