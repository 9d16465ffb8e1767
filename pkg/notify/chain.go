package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Chain tries notifiers in order until one accepts the alert.
type Chain struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewChain creates a chain. At least one notifier is required.
func NewChain(logger *slog.Logger, notifiers ...Notifier) (*Chain, error) {
	if len(notifiers) == 0 {
		return nil, ErrNoProviders
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		notifiers: notifiers,
		logger:    logger.With("component", "notify.chain"),
	}, nil
}

// SendAlert tries each notifier until one succeeds.
func (c *Chain) SendAlert(ctx context.Context, a Alert) error {
	var errs []error

	for i, n := range c.notifiers {
		err := n.SendAlert(ctx, a)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback notifier succeeded", "notifier", n.Name(), "alert", a.ID)
			}
			return nil
		}

		errs = append(errs, err)
		c.logger.Warn("notifier failed, trying next", "notifier", n.Name(), "error", err)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return &ChainError{Errors: errs}
}

// Name lists the chained notifiers.
func (c *Chain) Name() string {
	names := make([]string, len(c.notifiers))
	for i, n := range c.notifiers {
		names[i] = n.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// ChainError aggregates the failures of every notifier in a chain.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "notify chain: no errors recorded"
	case 1:
		return fmt.Sprintf("notify chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("notify chain: all %d notifiers failed, last error: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap exposes every underlying error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}

var _ Notifier = (*Chain)(nil)
