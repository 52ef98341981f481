// Package config holds the settings shared by the console and the push
// server. Values come from defaults, an optional YAML file and FLEETDASH_*
// environment variables, in that order
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		Log     LogConfig     `yaml:"log"`
		API     APIConfig     `yaml:"api"`
		Channel ChannelConfig `yaml:"channel"`
		Console ConsoleConfig `yaml:"console"`
		Push    PushConfig    `yaml:"push"`
		Kafka   KafkaConfig   `yaml:"kafka"`
	}

	LogConfig struct {
		Level string `yaml:"level"`
	}

	// APIConfig points at the REST backend
	APIConfig struct {
		BaseURL     string        `yaml:"base_url"`
		Timeout     time.Duration `yaml:"timeout"`
		SessionPath string        `yaml:"session_path"`
	}

	// ChannelConfig drives the push-channel connection manager
	ChannelConfig struct {
		URL            string        `yaml:"url"`
		Page           string        `yaml:"page"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		Heartbeat      time.Duration `yaml:"heartbeat"`
		MaxAttempts    int           `yaml:"max_attempts"`
		InitialDelay   time.Duration `yaml:"initial_delay"`
		MaxDelay       time.Duration `yaml:"max_delay"`
	}

	ConsoleConfig struct {
		Interval time.Duration `yaml:"interval"`
		Rows     int           `yaml:"rows"`
		Toasts   int           `yaml:"toasts"`
	}

	// PushConfig is the push server side
	PushConfig struct {
		Listen       string  `yaml:"listen"`
		RefreshRate  float64 `yaml:"refresh_rate"`
		RefreshBurst int     `yaml:"refresh_burst"`
		SendBuffer   int     `yaml:"send_buffer"`
	}

	// KafkaConfig enables change ingestion when Brokers is non-empty
	KafkaConfig struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
		GroupID string   `yaml:"group_id"`
	}
)

const envPrefix = "FLEETDASH_"

var (
	ErrInvalidURL      = errors.New("invalid url")
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrInvalidValue    = errors.New("invalid value")
	ErrMissingTopic    = errors.New("kafka topic is required when brokers are set")
)

func NewDefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		API: APIConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 15 * time.Second,
		},
		Channel: ChannelConfig{
			URL:            "ws://localhost:8080/ws",
			Page:           "dashboard",
			ConnectTimeout: 20 * time.Second,
			Heartbeat:      30 * time.Second,
			MaxAttempts:    10,
			InitialDelay:   time.Second,
			MaxDelay:       5 * time.Second,
		},
		Console: ConsoleConfig{
			Interval: time.Second,
			Rows:     15,
			Toasts:   5,
		},
		Push: PushConfig{
			Listen:       ":8080",
			RefreshRate:  1,
			RefreshBurst: 3,
			SendBuffer:   256,
		},
		Kafka: KafkaConfig{
			Topic:   "fleet.changes",
			GroupID: "fleetdash-pushd",
		},
	}
}

// Load builds the effective configuration. An empty path or a missing file
// leaves the defaults in place
func Load(path string) (Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return cfg, fmt.Errorf("load config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

// LoadFromEnv overlays FLEETDASH_* variables onto c
func (c *Config) LoadFromEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = i
		}
	}

	str("LOG_LEVEL", &c.Log.Level)

	str("API_URL", &c.API.BaseURL)
	dur("API_TIMEOUT", &c.API.Timeout)
	str("SESSION_PATH", &c.API.SessionPath)

	str("PUSH_URL", &c.Channel.URL)
	str("PAGE", &c.Channel.Page)
	dur("CONNECT_TIMEOUT", &c.Channel.ConnectTimeout)
	dur("HEARTBEAT", &c.Channel.Heartbeat)
	num("RECONNECT_ATTEMPTS", &c.Channel.MaxAttempts)
	dur("RECONNECT_DELAY", &c.Channel.InitialDelay)
	dur("RECONNECT_MAX_DELAY", &c.Channel.MaxDelay)

	dur("INTERVAL", &c.Console.Interval)
	num("ROWS", &c.Console.Rows)

	str("LISTEN", &c.Push.Listen)
	if v, ok := lookup("REFRESH_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREFRESH_RATE: %w", envPrefix, err))
		} else {
			c.Push.RefreshRate = f
		}
	}
	num("REFRESH_BURST", &c.Push.RefreshBurst)

	if v, ok := lookup("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("KAFKA_GROUP", &c.Kafka.GroupID)

	return errors.Join(errs...)
}

// Validate reports the first setting that cannot work
func (c Config) Validate() error {
	if err := checkURL(c.API.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if err := checkURL(c.Channel.URL, "ws", "wss"); err != nil {
		return fmt.Errorf("channel.url: %w", err)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"api.timeout", c.API.Timeout},
		{"channel.connect_timeout", c.Channel.ConnectTimeout},
		{"channel.heartbeat", c.Channel.Heartbeat},
		{"channel.initial_delay", c.Channel.InitialDelay},
		{"channel.max_delay", c.Channel.MaxDelay},
		{"console.interval", c.Console.Interval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s: %w", d.name, ErrInvalidDuration)
		}
	}
	if c.Channel.MaxDelay < c.Channel.InitialDelay {
		return fmt.Errorf("channel.max_delay below initial_delay: %w",
			ErrInvalidValue)
	}
	if c.Channel.MaxAttempts < 0 {
		return fmt.Errorf("channel.max_attempts: %w", ErrInvalidValue)
	}
	if c.Console.Rows < 1 {
		return fmt.Errorf("console.rows: %w", ErrInvalidValue)
	}
	if c.Push.RefreshRate <= 0 || c.Push.RefreshBurst < 1 {
		return fmt.Errorf("push refresh limit: %w", ErrInvalidValue)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return ErrMissingTopic
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitList(v string) []string {
	var res []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}
