package notify

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/teslashibe/fallwatch/internal/httpc"
)

const providerWebhook = "webhook"

// WebhookConfig configures a generic JSON webhook.
type WebhookConfig struct {
	URL     string
	Secret  string // sent as a bearer token when set
	Client  *http.Client
	Logger  *slog.Logger
	Headers map[string]string
}

// Webhook POSTs the alert as JSON.
type Webhook struct {
	cfg    WebhookConfig
	logger *slog.Logger
}

// NewWebhook validates cfg and creates the notifier.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, wrap(providerWebhook, ErrMissingRecipient)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{cfg: cfg, logger: cfg.Logger.With("component", "notify.webhook")}, nil
}

// webhookPayload is the wire body; Text mirrors what chat transports show.
type webhookPayload struct {
	Alert
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (w *Webhook) SendAlert(ctx context.Context, a Alert) error {
	headers := make(map[string]string, len(w.cfg.Headers)+1)
	for k, v := range w.cfg.Headers {
		headers[k] = v
	}
	if w.cfg.Secret != "" {
		headers["Authorization"] = "Bearer " + w.cfg.Secret
	}

	resp, err := httpc.PostJSON(ctx, w.cfg.Client, w.cfg.URL, webhookPayload{Alert: a, Title: a.Title(), Text: a.Text()}, headers)
	if err != nil {
		return wrap(providerWebhook, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(providerWebhook, resp); err != nil {
		return err
	}
	w.logger.Debug("webhook accepted alert", "alert", a.ID, "status", resp.StatusCode)
	return nil
}

func (w *Webhook) Name() string { return providerWebhook }

var _ Notifier = (*Webhook)(nil)
