package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Result is the asynchronous outcome of one dispatched alert.
type Result struct {
	Alert    Alert
	Err      error
	Duration time.Duration
}

// DispatchStats counts dispatcher outcomes.
type DispatchStats struct {
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
	InFlight bool   `json:"in_flight"`
}

// Dispatcher sends alerts off the caller's goroutine with a single in-flight
// slot. Dispatch never blocks.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	onResult func(Result)

	slot   chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithResultHandler registers a callback for completed sends. It runs on the
// send goroutine.
func WithResultHandler(fn func(Result)) DispatcherOption {
	return func(d *Dispatcher) { d.onResult = fn }
}

// NewDispatcher creates a dispatcher around n.
func NewDispatcher(n Notifier, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		notifier: n,
		logger:   logger.With("component", "notify.dispatcher", "notifier", n.Name()),
		slot:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch starts sending a in the background. It returns false, and drops
// the alert, when a previous send is still in flight.
func (d *Dispatcher) Dispatch(a Alert) bool {
	select {
	case d.slot <- struct{}{}:
	default:
		d.dropped.Add(1)
		d.logger.Warn("alert dropped, notifier busy", "alert", a.ID, "severity", a.Severity)
		return false
	}

	d.wg.Add(1)
	go d.send(a)
	return true
}

func (d *Dispatcher) send(a Alert) {
	defer d.wg.Done()
	defer func() { <-d.slot }()

	start := time.Now()
	err := d.call(a)
	res := Result{Alert: a, Err: err, Duration: time.Since(start)}

	if err != nil {
		d.failed.Add(1)
		d.logger.Warn("alert delivery failed", "alert", a.ID, "error", err, "duration", res.Duration)
	} else {
		d.sent.Add(1)
		d.logger.Info("alert delivered", "alert", a.ID, "severity", a.Severity, "duration", res.Duration)
	}

	if d.onResult != nil {
		d.onResult(res)
	}
}

func (d *Dispatcher) call(a Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return d.notifier.SendAlert(d.ctx, a)
}

// Busy reports whether a send is in flight.
func (d *Dispatcher) Busy() bool {
	return len(d.slot) > 0
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Sent:     d.sent.Load(),
		Failed:   d.failed.Load(),
		Dropped:  d.dropped.Load(),
		InFlight: d.Busy(),
	}
}

// Wait blocks until the in-flight send, if any, completes.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels any in-flight send and waits for it to return.
func (d *Dispatcher) Close() error {
	d.cancel()
	d.wg.Wait()
	return nil
}
