// Package config loads fallwatch configuration from a TOML file and the
// environment. Flags are applied by the command on top of the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/teslashibe/fallwatch/pkg/camera"
	"github.com/teslashibe/fallwatch/pkg/fall"
)

// Defaults for settings outside the detection core.
const (
	DefaultPath      = "fallwatch.toml"
	DefaultAddr      = ":8090"
	DefaultModel     = "models/yolov8n-pose.onnx"
	DefaultLogLevel  = "info"
	DefaultFCMTopic  = "fall-alerts"
	DefaultMQTTTopic = "fallwatch/alerts"
)

// Notifier provider names.
const (
	ProviderLINE    = "line"
	ProviderWebhook = "webhook"
	ProviderFCM     = "fcm"
	ProviderMQTT    = "mqtt"
	ProviderLog     = "log"
)

// Config is the complete runtime configuration.
type Config struct {
	Detection fall.Config
	Camera    camera.Config
	Server    ServerConfig
	Notify    NotifyConfig
	Store     StoreConfig
	Log       LogConfig

	Path string // file the config was read from, empty when defaults only
}

// ServerConfig configures the HTTP API and websocket endpoints.
type ServerConfig struct {
	Addr         string
	EnableCamera bool   // capture from the local camera
	EnableIngest bool   // accept landmark frames on /ws/landmarks
	Model        string // pose model for camera mode
}

// NotifyConfig lists the providers to try, in order.
type NotifyConfig struct {
	Providers []string
	LINE      LINEConfig
	Webhook   WebhookConfig
	FCM       FCMConfig
	MQTT      MQTTConfig
}

type LINEConfig struct {
	AccessToken string
	UserID      string
}

type WebhookConfig struct {
	URL    string
	Secret string
}

type FCMConfig struct {
	ProjectID       string
	CredentialsFile string
	Topic           string
	Token           string
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retained bool
}

// StoreConfig points at the SQLite event history. An empty path keeps
// events in memory only.
type StoreConfig struct {
	Path string
}

type LogConfig struct {
	Level  string
	Format string
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Detection: fall.DefaultConfig(),
		Camera:    camera.DefaultConfig(),
		Server: ServerConfig{
			Addr:         DefaultAddr,
			EnableCamera: true,
			Model:        DefaultModel,
		},
		Notify: NotifyConfig{
			Providers: []string{ProviderLog},
			FCM:       FCMConfig{Topic: DefaultFCMTopic},
			MQTT:      MQTTConfig{Topic: DefaultMQTTTopic},
		},
		Log: LogConfig{Level: DefaultLogLevel, Format: "text"},
	}
}

// fileConfig mirrors the TOML layout. Detection fields are pointers so a
// partially specified threshold group can be told apart from an absent one.
type fileConfig struct {
	Detection struct {
		TorsoAngleThreshold        *float64 `toml:"torso_angle_threshold"`
		HeadDropThreshold          *float64 `toml:"head_drop_threshold"`
		CenterShiftThreshold       *float64 `toml:"center_shift_threshold"`
		MinCriteria                *int     `toml:"min_criteria"`
		ConsecutiveFramesThreshold *int     `toml:"consecutive_frames_threshold"`
		CooldownSeconds            *float64 `toml:"cooldown_seconds"`
		SevereAngleThreshold       *float64 `toml:"severe_angle_threshold"`
		MinLandmarkConfidence      *float64 `toml:"min_landmark_confidence"`
	} `toml:"detection"`
	Camera *camera.Config `toml:"camera"`
	Server struct {
		Addr         string `toml:"addr"`
		EnableCamera *bool  `toml:"enable_camera"`
		EnableIngest *bool  `toml:"enable_ingest"`
		Model        string `toml:"model"`
	} `toml:"server"`
	Notify struct {
		Providers []string `toml:"providers"`
		LINE      struct {
			AccessToken string `toml:"access_token"`
			UserID      string `toml:"user_id"`
		} `toml:"line"`
		Webhook struct {
			URL    string `toml:"url"`
			Secret string `toml:"secret"`
		} `toml:"webhook"`
		FCM struct {
			ProjectID       string `toml:"project_id"`
			CredentialsFile string `toml:"credentials_file"`
			Topic           string `toml:"topic"`
			Token           string `toml:"token"`
		} `toml:"fcm"`
		MQTT struct {
			Broker   string `toml:"broker"`
			ClientID string `toml:"client_id"`
			Username string `toml:"username"`
			Password string `toml:"password"`
			Topic    string `toml:"topic"`
			QoS      *int   `toml:"qos"`
			Retained bool   `toml:"retained"`
		} `toml:"mqtt"`
	} `toml:"notify"`
	Store struct {
		Path string `toml:"path"`
	} `toml:"store"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

// Load reads path, applies environment overrides and validates the result.
// A missing file is only an error when required is true.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.merge(data); err != nil {
				return nil, err
			}
			cfg.Path = path
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return nil, &ConfigError{Field: "path", Message: fmt.Sprintf("read %s: %v", path, err), Err: err}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds a config from TOML bytes without touching the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.merge(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) merge(data []byte) error {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return &ConfigError{Field: "toml", Message: fmt.Sprintf("line %d column %d: %s", row, col, derr.Error()), Err: err}
		}
		return &ConfigError{Field: "toml", Message: err.Error(), Err: err}
	}

	if err := c.mergeDetection(fc); err != nil {
		return err
	}

	if fc.Camera != nil {
		c.Camera = mergeCamera(c.Camera, data)
	}

	if fc.Server.Addr != "" {
		c.Server.Addr = fc.Server.Addr
	}
	if fc.Server.EnableCamera != nil {
		c.Server.EnableCamera = *fc.Server.EnableCamera
	}
	if fc.Server.EnableIngest != nil {
		c.Server.EnableIngest = *fc.Server.EnableIngest
	}
	if fc.Server.Model != "" {
		c.Server.Model = fc.Server.Model
	}

	if len(fc.Notify.Providers) > 0 {
		c.Notify.Providers = fc.Notify.Providers
	}
	c.Notify.LINE = LINEConfig(fc.Notify.LINE)
	c.Notify.Webhook = WebhookConfig(fc.Notify.Webhook)
	c.Notify.FCM.ProjectID = fc.Notify.FCM.ProjectID
	c.Notify.FCM.CredentialsFile = fc.Notify.FCM.CredentialsFile
	c.Notify.FCM.Token = fc.Notify.FCM.Token
	if fc.Notify.FCM.Topic != "" {
		c.Notify.FCM.Topic = fc.Notify.FCM.Topic
	}

	m := fc.Notify.MQTT
	c.Notify.MQTT.Broker = m.Broker
	c.Notify.MQTT.ClientID = m.ClientID
	c.Notify.MQTT.Username = m.Username
	c.Notify.MQTT.Password = m.Password
	c.Notify.MQTT.Retained = m.Retained
	if m.Topic != "" {
		c.Notify.MQTT.Topic = m.Topic
	}
	if m.QoS != nil {
		if *m.QoS < 0 || *m.QoS > 2 {
			return &ConfigError{Field: "notify.mqtt.qos", Message: fmt.Sprintf("qos must be 0, 1 or 2, got %d", *m.QoS)}
		}
		c.Notify.MQTT.QoS = byte(*m.QoS)
	}

	if fc.Store.Path != "" {
		c.Store.Path = fc.Store.Path
	}

	if fc.Log.Level != "" {
		c.Log.Level = fc.Log.Level
	}
	if fc.Log.Format != "" {
		c.Log.Format = fc.Log.Format
	}
	return nil
}

func (c *Config) mergeDetection(fc fileConfig) error {
	d := fc.Detection

	set := 0
	for _, p := range []*float64{d.TorsoAngleThreshold, d.HeadDropThreshold, d.CenterShiftThreshold} {
		if p != nil {
			set++
		}
	}
	if set != 0 && set != 3 {
		return &ConfigError{
			Field:   "detection",
			Message: "torso_angle_threshold, head_drop_threshold and center_shift_threshold must be set together",
		}
	}
	if set == 3 {
		c.Detection.Thresholds.TorsoAngle = *d.TorsoAngleThreshold
		c.Detection.Thresholds.HeadDrop = *d.HeadDropThreshold
		c.Detection.Thresholds.CenterShift = *d.CenterShiftThreshold
	}

	if d.MinCriteria != nil {
		c.Detection.Thresholds.MinCriteria = *d.MinCriteria
	}
	if d.ConsecutiveFramesThreshold != nil {
		c.Detection.ConsecutiveFrames = *d.ConsecutiveFramesThreshold
	}
	if d.CooldownSeconds != nil {
		c.Detection.Cooldown = time.Duration(*d.CooldownSeconds * float64(time.Second))
	}
	if d.SevereAngleThreshold != nil {
		c.Detection.SevereAngle = *d.SevereAngleThreshold
	}
	if d.MinLandmarkConfidence != nil {
		c.Detection.MinConfidence = *d.MinLandmarkConfidence
	}
	return nil
}

// mergeCamera decodes the camera table over the current values so unset keys
// keep their defaults.
func mergeCamera(base camera.Config, data []byte) camera.Config {
	wrapper := struct {
		Camera camera.Config `toml:"camera"`
	}{Camera: base}
	// already decoded once without error
	_ = toml.Unmarshal(data, &wrapper)
	return wrapper.Camera
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("FALLWATCH_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("FALLWATCH_MODEL"); v != "" {
		c.Server.Model = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"); v != "" {
		c.Notify.LINE.AccessToken = v
	}
	if v := os.Getenv("LINE_USER_ID"); v != "" {
		c.Notify.LINE.UserID = v
	}
	if v := os.Getenv("FALLWATCH_WEBHOOK_URL"); v != "" {
		c.Notify.Webhook.URL = v
	}
	if v := os.Getenv("FALLWATCH_WEBHOOK_SECRET"); v != "" {
		c.Notify.Webhook.Secret = v
	}
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" && c.Notify.FCM.CredentialsFile == "" {
		c.Notify.FCM.CredentialsFile = v
	}
	if v := os.Getenv("FALLWATCH_MQTT_BROKER"); v != "" {
		c.Notify.MQTT.Broker = v
	}
	if v := os.Getenv("FALLWATCH_MQTT_USERNAME"); v != "" {
		c.Notify.MQTT.Username = v
	}
	if v := os.Getenv("FALLWATCH_MQTT_PASSWORD"); v != "" {
		c.Notify.MQTT.Password = v
	}
	if v := os.Getenv("FALLWATCH_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("FALLWATCH_NOTIFY"); v != "" {
		c.Notify.Providers = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks every section. Detection errors are fatal before the
// detection loop starts.
func (c *Config) Validate() error {
	if err := c.Detection.Validate(); err != nil {
		return &ConfigError{Field: "detection", Message: err.Error(), Err: err}
	}
	if c.Server.EnableCamera {
		if errs := c.Camera.Validate(); len(errs) > 0 {
			return &ConfigError{Field: "camera", Message: strings.Join(errs, "; ")}
		}
	}
	if !c.Server.EnableCamera && !c.Server.EnableIngest {
		return &ConfigError{Field: "server", Message: "at least one of enable_camera or enable_ingest must be true"}
	}
	if c.Server.Addr == "" {
		return &ConfigError{Field: "server.addr", Message: "listen address is required"}
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return &ConfigError{Field: "log.format", Message: fmt.Sprintf("unknown log format %q", c.Log.Format)}
	}

	if len(c.Notify.Providers) == 0 {
		return &ConfigError{Field: "notify.providers", Message: "at least one notifier is required"}
	}
	for _, p := range c.Notify.Providers {
		switch p {
		case ProviderLINE:
			if c.Notify.LINE.AccessToken == "" || c.Notify.LINE.UserID == "" {
				return &ConfigError{Field: "notify.line", Message: "LINE_CHANNEL_ACCESS_TOKEN and user_id are required"}
			}
		case ProviderWebhook:
			if c.Notify.Webhook.URL == "" {
				return &ConfigError{Field: "notify.webhook", Message: "webhook url is required"}
			}
		case ProviderFCM:
			if c.Notify.FCM.ProjectID == "" || c.Notify.FCM.CredentialsFile == "" {
				return &ConfigError{Field: "notify.fcm", Message: "project_id and credentials_file are required"}
			}
		case ProviderMQTT:
			if c.Notify.MQTT.Broker == "" {
				return &ConfigError{Field: "notify.mqtt", Message: "broker is required"}
			}
		case ProviderLog:
		default:
			return &ConfigError{Field: "notify.providers", Message: fmt.Sprintf("unknown notifier %q", p)}
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
