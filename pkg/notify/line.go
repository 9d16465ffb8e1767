package notify

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/teslashibe/fallwatch/internal/httpc"
)

const (
	linePushURL  = "https://api.line.me/v2/bot/message/push"
	providerLINE = "line"
)

// LINEConfig configures the LINE Messaging API push notifier.
type LINEConfig struct {
	AccessToken string // channel access token
	UserID      string // user, group or room to push to
	BaseURL     string // defaults to the public push endpoint
	Client      *http.Client
	Logger      *slog.Logger
}

// LINE pushes a text message through the LINE Messaging API.
type LINE struct {
	cfg    LINEConfig
	logger *slog.Logger
}

// NewLINE validates cfg and creates the notifier.
func NewLINE(cfg LINEConfig) (*LINE, error) {
	if cfg.AccessToken == "" {
		return nil, wrap(providerLINE, ErrMissingToken)
	}
	if cfg.UserID == "" {
		return nil, wrap(providerLINE, ErrMissingRecipient)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = linePushURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LINE{cfg: cfg, logger: cfg.Logger.With("component", "notify.line")}, nil
}

type linePush struct {
	To       string        `json:"to"`
	Messages []lineMessage `json:"messages"`
}

type lineMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (l *LINE) SendAlert(ctx context.Context, a Alert) error {
	body := linePush{
		To:       l.cfg.UserID,
		Messages: []lineMessage{{Type: "text", Text: a.Text()}},
	}

	resp, err := httpc.PostJSON(ctx, l.cfg.Client, l.cfg.BaseURL, body, map[string]string{
		"Authorization": "Bearer " + l.cfg.AccessToken,
	})
	if err != nil {
		return wrap(providerLINE, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(providerLINE, resp); err != nil {
		return err
	}
	l.logger.Debug("line push sent", "alert", a.ID)
	return nil
}

func (l *LINE) Name() string { return providerLINE }

var _ Notifier = (*LINE)(nil)
