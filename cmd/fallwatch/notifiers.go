package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/teslashibe/fallwatch/internal/config"
	"github.com/teslashibe/fallwatch/internal/httpc"
	"github.com/teslashibe/fallwatch/pkg/notify"
)

// alertTimeout bounds one delivery attempt.
const alertTimeout = 10 * time.Second

// buildNotifier creates the configured providers in order. More than one
// provider is wrapped in a chain that stops at the first success. The
// returned closers hold broker connections and are closed on shutdown.
func buildNotifier(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger) (notify.Notifier, []io.Closer, error) {
	var (
		notifiers []notify.Notifier
		closers   []io.Closer
	)
	client := httpc.NewClient(alertTimeout)

	for _, name := range cfg.Providers {
		var (
			n   notify.Notifier
			err error
		)
		switch name {
		case config.ProviderLINE:
			n, err = notify.NewLINE(notify.LINEConfig{
				AccessToken: cfg.LINE.AccessToken,
				UserID:      cfg.LINE.UserID,
				Client:      client,
				Logger:      logger,
			})
		case config.ProviderWebhook:
			n, err = notify.NewWebhook(notify.WebhookConfig{
				URL:    cfg.Webhook.URL,
				Secret: cfg.Webhook.Secret,
				Client: client,
				Logger: logger,
			})
		case config.ProviderFCM:
			n, err = notify.NewFCM(ctx, notify.FCMConfig{
				ProjectID:       cfg.FCM.ProjectID,
				CredentialsFile: cfg.FCM.CredentialsFile,
				Topic:           cfg.FCM.Topic,
				Token:           cfg.FCM.Token,
				Logger:          logger,
			})
		case config.ProviderMQTT:
			var m *notify.MQTT
			m, err = notify.NewMQTT(notify.MQTTConfig{
				Broker:   cfg.MQTT.Broker,
				ClientID: cfg.MQTT.ClientID,
				Username: cfg.MQTT.Username,
				Password: cfg.MQTT.Password,
				Topic:    cfg.MQTT.Topic,
				QoS:      cfg.MQTT.QoS,
				Retained: cfg.MQTT.Retained,
				Logger:   logger,
			})
			if err == nil {
				n = m
				closers = append(closers, m)
			}
		case config.ProviderLog:
			n = notify.NewLog(logger)
		default:
			err = fmt.Errorf("unknown provider %q", name)
		}
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("notifier %s: %w", name, err)
		}
		notifiers = append(notifiers, n)
	}

	switch len(notifiers) {
	case 0:
		return nil, nil, notify.ErrNoProviders
	case 1:
		return notifiers[0], closers, nil
	default:
		chain, err := notify.NewChain(logger, notifiers...)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		return chain, closers, nil
	}
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}
