package config

import (
	"fmt"
	"time"

	"github.com/banshee-data/soccer-diffusion/internal/live"
	"github.com/banshee-data/soccer-diffusion/internal/livefeed"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// Feed kinds.
const (
	FeedMQTT   = "mqtt"
	FeedSerial = "serial"
)

// LiveConfig configures live inference on one robot. Model holds the
// dataset options the model was trained with.
type LiveConfig struct {
	Model *DatasetConfig `json:"model,omitempty" yaml:"model,omitempty"`

	Feed        *string              `json:"feed,omitempty" yaml:"feed,omitempty"`
	MQTT        livefeed.MQTTOptions `json:"mqtt" yaml:"mqtt"`
	TopicPrefix *string              `json:"topic_prefix,omitempty" yaml:"topic_prefix,omitempty"`
	SerialPath  *string              `json:"serial_path,omitempty" yaml:"serial_path,omitempty"`
	Serial      livefeed.PortOptions `json:"serial" yaml:"serial"`

	ModelURL     *string `json:"model_url,omitempty" yaml:"model_url,omitempty"`
	ModelTimeout *string `json:"model_timeout,omitempty" yaml:"model_timeout,omitempty"`

	// OrientationStrategy has no default and must be set.
	OrientationStrategy *string            `json:"orientation_strategy,omitempty" yaml:"orientation_strategy,omitempty"`
	Mount               *schema.Quaternion `json:"mount,omitempty" yaml:"mount,omitempty"`
	RobotType           *string            `json:"robot_type,omitempty" yaml:"robot_type,omitempty"`
	ImageRateHz         *float64           `json:"image_rate_hz,omitempty" yaml:"image_rate_hz,omitempty"`

	AdminListen *string `json:"admin_listen,omitempty" yaml:"admin_listen,omitempty"`
}

func (c *LiveConfig) model() *DatasetConfig {
	if c.Model == nil {
		return &DatasetConfig{}
	}
	return c.Model
}

// GetFeed returns the feed kind, mqtt by default.
func (c *LiveConfig) GetFeed() string {
	if c.Feed == nil || *c.Feed == "" {
		return FeedMQTT
	}
	return *c.Feed
}

// GetTopicPrefix returns the MQTT topic prefix, "robot" by default.
func (c *LiveConfig) GetTopicPrefix() string {
	if c.TopicPrefix == nil || *c.TopicPrefix == "" {
		return "robot"
	}
	return *c.TopicPrefix
}

// GetSerialPath returns the serial device, /dev/ttyUSB0 by default.
func (c *LiveConfig) GetSerialPath() string {
	if c.SerialPath == nil || *c.SerialPath == "" {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPath
}

// GetModelURL returns the model server base URL.
func (c *LiveConfig) GetModelURL() string {
	if c.ModelURL == nil || *c.ModelURL == "" {
		return "http://localhost:8000"
	}
	return *c.ModelURL
}

// GetModelTimeout bounds one model call, 1s by default.
func (c *LiveConfig) GetModelTimeout() time.Duration {
	if c.ModelTimeout == nil || *c.ModelTimeout == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.ModelTimeout)
	if err != nil {
		return time.Second
	}
	return d
}

// GetImageRateHz returns the image buffer rate.
func (c *LiveConfig) GetImageRateHz() float64 {
	if c.ImageRateHz == nil {
		return live.DefaultImageRateHz
	}
	return *c.ImageRateHz
}

// GetAdminListen returns the admin listen address, empty when disabled.
func (c *LiveConfig) GetAdminListen() string {
	if c.AdminListen == nil {
		return ""
	}
	return *c.AdminListen
}

// GetOrientationStrategy returns the configured strategy. A missing or
// unknown strategy is an error wrapping live.ErrNoOrientationStrategy.
func (c *LiveConfig) GetOrientationStrategy() (live.OrientationStrategy, error) {
	name := ""
	if c.OrientationStrategy != nil {
		name = *c.OrientationStrategy
	}
	return live.ParseOrientationStrategy(name, c.Mount)
}

// BufferConfig returns the live buffer configuration.
func (c *LiveConfig) BufferConfig() (live.Config, error) {
	opts, err := c.model().Options()
	if err != nil {
		return live.Config{}, err
	}
	cfg := live.Config{Options: opts, ImageRateHz: c.GetImageRateHz()}
	if c.RobotType != nil {
		cfg.RobotType = *c.RobotType
	}
	return cfg, cfg.Validate()
}

// Validate checks every value that is set and requires an orientation
// strategy.
func (c *LiveConfig) Validate() error {
	if err := c.model().Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	switch c.GetFeed() {
	case FeedMQTT:
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt feed needs mqtt.broker")
		}
	case FeedSerial:
		if _, err := c.Serial.Normalize(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown feed %q, want %q or %q", c.GetFeed(), FeedMQTT, FeedSerial)
	}
	if _, err := c.GetOrientationStrategy(); err != nil {
		return err
	}
	if c.Mount != nil {
		if err := c.Mount.Validate(); err != nil {
			return fmt.Errorf("mount: %w", err)
		}
	}
	if c.ModelTimeout != nil && *c.ModelTimeout != "" {
		if _, err := time.ParseDuration(*c.ModelTimeout); err != nil {
			return fmt.Errorf("invalid model_timeout '%s': %w", *c.ModelTimeout, err)
		}
	}
	if _, err := c.BufferConfig(); err != nil {
		return err
	}
	return nil
}
