package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/oauth2/google"
	fcm "google.golang.org/api/fcm/v1"
	"google.golang.org/api/option"
)

const (
	providerFCM  = "fcm"
	scopeFCM     = "https://www.googleapis.com/auth/firebase.messaging"
	defaultTopic = "fall-alerts"
)

// FCMConfig configures Firebase Cloud Messaging (HTTP v1).
type FCMConfig struct {
	ProjectID       string
	CredentialsFile string // service-account JSON
	CredentialsJSON []byte // takes precedence over CredentialsFile
	Topic           string // used when Token is empty
	Token           string // single device registration token
	Logger          *slog.Logger

	// ClientOptions replace credential loading when set.
	ClientOptions []option.ClientOption
}

// FCM pushes a notification to a topic or device through Firebase.
type FCM struct {
	svc    *fcm.Service
	parent string
	cfg    FCMConfig
	logger *slog.Logger
}

// NewFCM loads service-account credentials and builds the messaging client.
func NewFCM(ctx context.Context, cfg FCMConfig) (*FCM, error) {
	if cfg.ProjectID == "" {
		return nil, wrap(providerFCM, fmt.Errorf("project id required"))
	}
	if cfg.Topic == "" && cfg.Token == "" {
		cfg.Topic = defaultTopic
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := cfg.ClientOptions
	if len(opts) == 0 {
		data := cfg.CredentialsJSON
		if len(data) == 0 {
			if cfg.CredentialsFile == "" {
				return nil, wrap(providerFCM, ErrMissingToken)
			}
			var err error
			data, err = os.ReadFile(cfg.CredentialsFile)
			if err != nil {
				return nil, wrap(providerFCM, fmt.Errorf("read credentials: %w", err))
			}
		}
		creds, err := google.CredentialsFromJSON(ctx, data, scopeFCM)
		if err != nil {
			return nil, wrap(providerFCM, fmt.Errorf("parse credentials: %w", err))
		}
		opts = []option.ClientOption{option.WithTokenSource(creds.TokenSource)}
	}

	svc, err := fcm.NewService(ctx, opts...)
	if err != nil {
		return nil, wrap(providerFCM, fmt.Errorf("create service: %w", err))
	}

	return &FCM{
		svc:    svc,
		parent: "projects/" + cfg.ProjectID,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "notify.fcm"),
	}, nil
}

func (f *FCM) SendAlert(ctx context.Context, a Alert) error {
	msg := &fcm.Message{
		Topic: f.cfg.Topic,
		Token: f.cfg.Token,
		Notification: &fcm.Notification{
			Title: a.Title(),
			Body:  a.Text(),
		},
		Data: map[string]string{
			"id":         a.ID,
			"severity":   a.Severity,
			"timestamp":  a.Timestamp.UTC().Format(time.RFC3339Nano),
			"sequence":   strconv.FormatUint(a.Sequence, 10),
			"confidence": strconv.FormatFloat(a.Confidence, 'f', 2, 64),
		},
		Android: &fcm.AndroidConfig{Priority: "HIGH"},
	}
	if f.cfg.Token != "" {
		msg.Topic = ""
	}
	if a.Angle != nil {
		msg.Data["angle"] = strconv.FormatFloat(*a.Angle, 'f', 1, 64)
	}

	sent, err := f.svc.Projects.Messages.Send(f.parent, &fcm.SendMessageRequest{Message: msg}).Context(ctx).Do()
	if err != nil {
		return wrap(providerFCM, err)
	}
	f.logger.Debug("fcm message sent", "alert", a.ID, "name", sent.Name)
	return nil
}

func (f *FCM) Name() string { return providerFCM }

var _ Notifier = (*FCM)(nil)
