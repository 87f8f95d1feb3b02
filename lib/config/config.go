// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	Relay  RelayConfig  `yaml:"relay"`
	Edge   EdgeConfig   `yaml:"edge"`
	Client ClientConfig `yaml:"client"`
}

// RelayConfig configures the central relay.
type RelayConfig struct {
	// Listen is the address edges connect to.
	Listen string `yaml:"listen"`

	// Secret is the shared secret every edge presents in its auth
	// message.
	Secret string `yaml:"secret"`

	// AuthTimeout bounds how long an edge link may stay
	// unauthenticated.
	AuthTimeout time.Duration `yaml:"auth_timeout"`
}

// EdgeConfig configures an edge gateway.
type EdgeConfig struct {
	// ID names this edge in relay logs. Defaults to the hostname.
	ID string `yaml:"id"`

	// Listen is the address devices connect to.
	Listen string `yaml:"listen"`

	// RelayURL is the central relay's edge endpoint.
	RelayURL string `yaml:"relay_url"`

	// RelaySecret must match the relay's secret.
	RelaySecret string `yaml:"relay_secret"`

	// Database is the account and session store file.
	Database string `yaml:"database"`

	// AllowRegistration lets devices create accounts with
	// auth{register: true}.
	AllowRegistration bool `yaml:"allow_registration"`

	// AuthTimeout is the grace window for a device socket to
	// authenticate.
	AuthTimeout time.Duration `yaml:"auth_timeout"`

	// PingInterval and PongTimeout drive device heartbeats.
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`

	// RelayAuthTimeout is the grace window for the relay to accept
	// this edge's credentials. Missing it stops the edge.
	RelayAuthTimeout time.Duration `yaml:"relay_auth_timeout"`

	// RetryDelay is the pause after a failed send to the relay.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// LinkPollInterval is how often a suspended queue checks whether
	// the relay link is back.
	LinkPollInterval time.Duration `yaml:"link_poll_interval"`

	// ReconnectBase and ReconnectGrowth give the relay reconnect
	// delay base + disconnects*growth.
	ReconnectBase   time.Duration `yaml:"reconnect_base"`
	ReconnectGrowth time.Duration `yaml:"reconnect_growth"`

	// MaxBackoff caps the reconnect delay. Zero leaves it uncapped.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// ShareJoinBurst is the number of share-guest-join attempts a
	// token allows before rate limiting at ShareJoinInterval.
	ShareJoinBurst    int           `yaml:"share_join_burst"`
	ShareJoinInterval time.Duration `yaml:"share_join_interval"`
}

// ClientConfig configures the device client.
type ClientConfig struct {
	// EdgeURL is the edge websocket endpoint.
	EdgeURL string `yaml:"edge_url"`

	// DeviceID is stable per install. Generated and saved to
	// StateDir when empty.
	DeviceID string `yaml:"device_id"`

	// DeviceName is shown to sibling devices.
	DeviceName string `yaml:"device_name"`

	// StateDir holds the session token, device ID and chunk store.
	StateDir string `yaml:"state_dir"`

	// DownloadDir receives accepted files.
	DownloadDir string `yaml:"download_dir"`

	// Channels is the number of data channels per peer link.
	Channels int `yaml:"channels"`

	// HighWaterMark is the buffered byte count above which chunk
	// sends wait for a channel to drain.
	HighWaterMark int `yaml:"high_water_mark"`

	// ICEServers are STUN/TURN URLs.
	ICEServers []string `yaml:"ice_servers"`

	// ReconnectBase and ReconnectGrowth drive the edge reconnect
	// delay, like the edge's relay link.
	ReconnectBase   time.Duration `yaml:"reconnect_base"`
	ReconnectGrowth time.Duration `yaml:"reconnect_growth"`
}

// Default returns the configuration used when a field is absent from
// the file.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Listen:      ":7400",
			AuthTimeout: 5 * time.Second,
		},
		Edge: EdgeConfig{
			Listen:            ":7401",
			RelayURL:          "ws://127.0.0.1:7400/edge",
			Database:          "${HOME}/.local/share/peerdrop/edge.db",
			AuthTimeout:       30 * time.Second,
			PingInterval:      15 * time.Second,
			PongTimeout:       3 * time.Second,
			RelayAuthTimeout:  5 * time.Second,
			RetryDelay:        50 * time.Millisecond,
			LinkPollInterval:  500 * time.Millisecond,
			ReconnectBase:     time.Second,
			ReconnectGrowth:   500 * time.Millisecond,
			ShareJoinBurst:    5,
			ShareJoinInterval: 2 * time.Second,
		},
		Client: ClientConfig{
			EdgeURL:         "ws://127.0.0.1:7401/ws",
			StateDir:        "${HOME}/.local/share/peerdrop",
			DownloadDir:     "${HOME}/Downloads",
			Channels:        4,
			HighWaterMark:   1 << 20,
			ReconnectBase:   time.Second,
			ReconnectGrowth: 500 * time.Millisecond,
		},
	}
}

// Load reads the file named by PEERDROP_CONFIG, or returns Default
// with variables expanded when it is unset.
func Load() (*Config, error) {
	path := os.Getenv("PEERDROP_CONFIG")
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// YAML is a superset of JSON, so normalized JSON decodes
		// through the same path.
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	for _, field := range []*string{
		&c.Relay.Listen, &c.Relay.Secret,
		&c.Edge.ID, &c.Edge.Listen, &c.Edge.RelayURL, &c.Edge.RelaySecret, &c.Edge.Database,
		&c.Client.EdgeURL, &c.Client.DeviceID, &c.Client.DeviceName,
		&c.Client.StateDir, &c.Client.DownloadDir,
	} {
		*field = expandVars(*field)
	}
	for i := range c.Client.ICEServers {
		c.Client.ICEServers[i] = expandVars(c.Client.ICEServers[i])
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default} with environment
// values.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// ValidateRelay checks the relay section.
func (c *Config) ValidateRelay() error {
	var errs []error
	if c.Relay.Listen == "" {
		errs = append(errs, errors.New("relay.listen is required"))
	}
	if c.Relay.Secret == "" {
		errs = append(errs, errors.New("relay.secret is required"))
	}
	if c.Relay.AuthTimeout <= 0 {
		errs = append(errs, errors.New("relay.auth_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateEdge checks the edge section.
func (c *Config) ValidateEdge() error {
	edge := c.Edge
	var errs []error
	if edge.Listen == "" {
		errs = append(errs, errors.New("edge.listen is required"))
	}
	if edge.RelayURL == "" {
		errs = append(errs, errors.New("edge.relay_url is required"))
	}
	if edge.RelaySecret == "" {
		errs = append(errs, errors.New("edge.relay_secret is required"))
	}
	if edge.Database == "" {
		errs = append(errs, errors.New("edge.database is required"))
	}
	positive := map[string]time.Duration{
		"edge.auth_timeout":       edge.AuthTimeout,
		"edge.ping_interval":      edge.PingInterval,
		"edge.pong_timeout":       edge.PongTimeout,
		"edge.relay_auth_timeout": edge.RelayAuthTimeout,
		"edge.retry_delay":        edge.RetryDelay,
		"edge.link_poll_interval": edge.LinkPollInterval,
		"edge.reconnect_base":     edge.ReconnectBase,
	}
	for name, value := range positive {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if edge.PongTimeout >= edge.PingInterval {
		errs = append(errs, errors.New("edge.pong_timeout must be shorter than edge.ping_interval"))
	}
	if edge.ReconnectGrowth < 0 || edge.MaxBackoff < 0 {
		errs = append(errs, errors.New("edge.reconnect_growth and edge.max_backoff must not be negative"))
	}
	if edge.ShareJoinBurst <= 0 || edge.ShareJoinInterval <= 0 {
		errs = append(errs, errors.New("edge.share_join_burst and edge.share_join_interval must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateClient checks the client section.
func (c *Config) ValidateClient() error {
	client := c.Client
	var errs []error
	if client.EdgeURL == "" {
		errs = append(errs, errors.New("client.edge_url is required"))
	}
	if client.StateDir == "" {
		errs = append(errs, errors.New("client.state_dir is required"))
	}
	if client.Channels < 1 {
		errs = append(errs, errors.New("client.channels must be at least 1"))
	}
	if client.HighWaterMark < 1 {
		errs = append(errs, errors.New("client.high_water_mark must be positive"))
	}
	if client.ReconnectBase <= 0 {
		errs = append(errs, errors.New("client.reconnect_base must be positive"))
	}
	return errors.Join(errs...)
}
