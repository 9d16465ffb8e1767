package notify

import (
	"context"
	"sync"
)

// Mock implements Notifier for testing and dry runs.
type Mock struct {
	// SendFunc is called for every alert. If nil, the alert is accepted.
	SendFunc func(ctx context.Context, a Alert) error

	mu     sync.Mutex
	alerts []Alert
}

// NewMock creates a mock that accepts every alert.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) SendAlert(ctx context.Context, a Alert) error {
	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	fn := m.SendFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, a)
	}
	return nil
}

func (m *Mock) Name() string { return "mock" }

// Alerts returns every alert received so far.
func (m *Mock) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// CallCount returns the number of SendAlert calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

// Reset clears recorded alerts.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = nil
}

var _ Notifier = (*Mock)(nil)
