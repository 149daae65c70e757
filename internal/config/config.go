// Package config loads the bridge configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joshp123/nibebridge/internal/oauth"
)

// Duration parses Go duration strings ("30s", "5m") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration.
type Config struct {
	// Listen is the HTTP bind address for the callback, API and metrics
	// endpoints.
	Listen string `yaml:"listen"`

	LogLevel string `yaml:"log_level"`

	Uplink UplinkConfig `yaml:"uplink"`
	OAuth  OAuthConfig  `yaml:"oauth"`
	MQTT   *MQTTConfig  `yaml:"mqtt,omitempty"`

	// Systems pins the installations to poll and, per system, the
	// parameters to keep fetched beyond what the status payloads carry.
	Systems []SystemConfig `yaml:"systems,omitempty"`
}

// SystemConfig is one installation's watch list.
type SystemConfig struct {
	SystemID int      `yaml:"system_id"`
	Watch    []string `yaml:"watch"`
}

// UplinkConfig tunes the cloud API access.
type UplinkConfig struct {
	// BaseURL overrides the production API endpoint, mainly for tests.
	BaseURL string `yaml:"base_url,omitempty"`

	// ScanInterval is the minimum idle gap between two poll cycles of the
	// same system, measured from completion of the previous cycle.
	ScanInterval Duration `yaml:"scan_interval"`

	// RequestsPerMinute caps outbound API calls. Zero disables the local
	// bucket and leaves only the server-driven cooldown.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// OAuthConfig describes credentials and persistence.
type OAuthConfig struct {
	// BootstrapFile holds the application client id and secret as JSON.
	BootstrapFile string `yaml:"bootstrap_file"`

	// StateFile receives the token state, created mode 0600.
	StateFile string `yaml:"state_file"`

	// RedirectURL must match the callback URL registered with the vendor.
	RedirectURL string `yaml:"redirect_url"`

	// WriteAccess requests the write scope in addition to read. Changing it
	// invalidates stored credentials and forces a re-authorization.
	WriteAccess bool `yaml:"write_access"`

	AuthorizeURL string `yaml:"authorize_url,omitempty"`
	TokenURL     string `yaml:"token_url,omitempty"`

	// Blob optionally mirrors the token state to object storage.
	Blob *BlobConfig `yaml:"blob,omitempty"`
}

// BlobConfig points at an S3-compatible bucket.
type BlobConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix,omitempty"`
	Region        string `yaml:"region,omitempty"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

// MQTTConfig enables the broker mirror when present.
type MQTTConfig struct {
	BrokerURL   string `yaml:"broker_url"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
}

// Scopes returns the OAuth scopes implied by the write access setting.
func (c OAuthConfig) Scopes() []string {
	if c.WriteAccess {
		return []string{oauth.ScopeRead, oauth.ScopeWrite}
	}
	return []string{oauth.ScopeRead}
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaults()
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Listen:   ":8686",
		LogLevel: "info",
		Uplink: UplinkConfig{
			ScanInterval:      Duration(time.Minute),
			RequestsPerMinute: 25,
		},
		OAuth: OAuthConfig{
			AuthorizeURL: "https://api.nibeuplink.com/oauth/authorize",
			TokenURL:     "https://api.nibeuplink.com/oauth/token",
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Uplink.ScanInterval.Std() < 10*time.Second {
		return fmt.Errorf("scan_interval must be at least 10s, got %s", c.Uplink.ScanInterval.Std())
	}
	if c.Uplink.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	if strings.TrimSpace(c.OAuth.BootstrapFile) == "" {
		return fmt.Errorf("oauth.bootstrap_file is required")
	}
	if strings.TrimSpace(c.OAuth.StateFile) == "" {
		return fmt.Errorf("oauth.state_file is required")
	}
	if strings.TrimSpace(c.OAuth.RedirectURL) == "" {
		return fmt.Errorf("oauth.redirect_url is required")
	}
	if blob := c.OAuth.Blob; blob != nil {
		if blob.Endpoint == "" || blob.Bucket == "" || blob.AccessKeyFile == "" || blob.SecretKeyFile == "" {
			return fmt.Errorf("oauth.blob requires endpoint, bucket, access_key_file and secret_key_file")
		}
	}
	if c.MQTT != nil && strings.TrimSpace(c.MQTT.BrokerURL) == "" {
		return fmt.Errorf("mqtt.broker_url is required when mqtt is configured")
	}
	for i, sys := range c.Systems {
		if sys.SystemID <= 0 {
			return fmt.Errorf("systems[%d]: system_id is required", i)
		}
		if len(sys.Watch) == 0 {
			return fmt.Errorf("systems[%d]: watch list must not be empty", i)
		}
		for _, id := range sys.Watch {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("systems[%d]: watch entries must not be blank", i)
			}
		}
	}
	return nil
}
