// Package config loads player settings from defaults, a YAML file and
// REEL_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/reel/internal/clock"
	"github.com/zsiec/reel/internal/decode"
	"github.com/zsiec/reel/internal/media"
	"github.com/zsiec/reel/internal/playback"
)

// Config is the full player configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Playback PlaybackConfig `yaml:"playback"`
	Queue    QueueConfig    `yaml:"queue"`
	Control  ControlConfig  `yaml:"control"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	SRT      SRTConfig      `yaml:"srt"`
}

// PlaybackConfig holds the controller settings.
type PlaybackConfig struct {
	// Cache windows in frames; zero derives them from the frame rate.
	VideoCacheSize int64         `yaml:"video_cache_size"`
	AudioCacheSize int64         `yaml:"audio_cache_size"`
	LoopMode       string        `yaml:"loop_mode"`
	Sync           string        `yaml:"sync"`
	FPS            float64       `yaml:"fps"`
	Speed          float64       `yaml:"speed"`
	SeekTimeout    time.Duration `yaml:"seek_timeout"`
}

// QueueConfig holds the per-stream packet queue budgets in bytes.
type QueueConfig struct {
	VideoBytes    int64 `yaml:"video_bytes"`
	AudioBytes    int64 `yaml:"audio_bytes"`
	SubtitleBytes int64 `yaml:"subtitle_bytes"`
}

// ControlConfig holds the control API listen addresses. Addr serves HTTPS
// and HTTP/3; APIAddr, if set, serves plain HTTP.
type ControlConfig struct {
	Addr    string `yaml:"addr"`
	APIAddr string `yaml:"api_addr"`
}

// MQTTConfig configures the MQTT bridge. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// SRTConfig configures the SRT listener for live feeds. An empty address
// disables it.
type SRTConfig struct {
	Addr    string        `yaml:"addr"`
	Latency time.Duration `yaml:"latency"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Playback: PlaybackConfig{
			LoopMode:    "loop",
			Sync:        "audio",
			Speed:       1,
			SeekTimeout: decode.DefaultSeekTimeout,
		},
		Queue: QueueConfig{
			VideoBytes:    media.VideoQueueBytes,
			AudioBytes:    media.AudioQueueBytes,
			SubtitleBytes: media.SubtitleQueueBytes,
		},
		Control: ControlConfig{
			Addr: ":4443",
		},
		MQTT: MQTTConfig{
			Topic:    "reel",
			ClientID: "reel",
		},
		SRT: SRTConfig{
			Latency: 120 * time.Millisecond,
		},
	}
}

// LoadFile reads the YAML file at path over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from REEL_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	envOr := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}
	c.LogLevel = envOr("REEL_LOG_LEVEL", c.LogLevel)
	c.Playback.LoopMode = envOr("REEL_LOOP_MODE", c.Playback.LoopMode)
	c.Playback.Sync = envOr("REEL_SYNC", c.Playback.Sync)
	c.Control.Addr = envOr("REEL_CONTROL_ADDR", c.Control.Addr)
	c.Control.APIAddr = envOr("REEL_API_ADDR", c.Control.APIAddr)
	c.MQTT.Broker = envOr("REEL_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Topic = envOr("REEL_MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.ClientID = envOr("REEL_MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.SRT.Addr = envOr("REEL_SRT_ADDR", c.SRT.Addr)

	var errs []error
	parse := func(key string, set func(string) error) {
		if v := getenv(key); v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}
	parse("REEL_FPS", func(v string) (err error) {
		c.Playback.FPS, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("REEL_SPEED", func(v string) (err error) {
		c.Playback.Speed, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("REEL_VIDEO_CACHE_SIZE", func(v string) (err error) {
		c.Playback.VideoCacheSize, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse("REEL_AUDIO_CACHE_SIZE", func(v string) (err error) {
		c.Playback.AudioCacheSize, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse("REEL_SEEK_TIMEOUT", func(v string) (err error) {
		c.Playback.SeekTimeout, err = time.ParseDuration(v)
		return err
	})
	parse("REEL_SRT_LATENCY", func(v string) (err error) {
		c.SRT.Latency, err = time.ParseDuration(v)
		return err
	})
	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if _, err := playback.ParseLoopMode(c.Playback.LoopMode); err != nil {
		errs = append(errs, fmt.Errorf("playback.loop_mode: %w", err))
	}
	if _, err := clock.ParseSyncType(c.Playback.Sync); err != nil {
		errs = append(errs, fmt.Errorf("playback.sync: %w", err))
	}
	if c.Playback.FPS < 0 {
		errs = append(errs, fmt.Errorf("playback.fps: %v is negative", c.Playback.FPS))
	}
	if c.Playback.Speed <= 0 {
		errs = append(errs, fmt.Errorf("playback.speed: %v must be positive", c.Playback.Speed))
	}
	if c.Playback.VideoCacheSize < 0 || c.Playback.AudioCacheSize < 0 {
		errs = append(errs, errors.New("playback cache sizes must not be negative"))
	}
	if c.Playback.SeekTimeout <= 0 {
		errs = append(errs, errors.New("playback.seek_timeout must be positive"))
	}
	if c.Queue.VideoBytes <= 0 || c.Queue.AudioBytes <= 0 || c.Queue.SubtitleBytes <= 0 {
		errs = append(errs, errors.New("queue budgets must be positive"))
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		errs = append(errs, errors.New("mqtt.topic is required with a broker"))
	}
	if c.SRT.Latency < 0 {
		errs = append(errs, errors.New("srt.latency must not be negative"))
	}
	return errors.Join(errs...)
}

// ToPlayback converts the playback and queue settings for the controller.
func (c Config) ToPlayback() (playback.Config, error) {
	mode, err := playback.ParseLoopMode(c.Playback.LoopMode)
	if err != nil {
		return playback.Config{}, err
	}
	sync, err := clock.ParseSyncType(c.Playback.Sync)
	if err != nil {
		return playback.Config{}, err
	}
	return playback.Config{
		VideoCacheSize:     c.Playback.VideoCacheSize,
		AudioCacheSize:     c.Playback.AudioCacheSize,
		LoopMode:           mode,
		Sync:               sync,
		FPS:                c.Playback.FPS,
		Speed:              c.Playback.Speed,
		SeekTimeout:        c.Playback.SeekTimeout,
		VideoQueueBytes:    c.Queue.VideoBytes,
		AudioQueueBytes:    c.Queue.AudioBytes,
		SubtitleQueueBytes: c.Queue.SubtitleBytes,
	}, nil
}
