// Package config loads the stream command's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joshklop/cryptoapi/pkg/exchanges/interfaces"
)

var knownExchanges = map[string]bool{
	"kraken":      true,
	"bitfinex":    true,
	"coinbasepro": true,
	"bitvavo":     true,
}

var knownChannels = map[string]bool{
	string(interfaces.KindTicker):    true,
	string(interfaces.KindTrades):    true,
	string(interfaces.KindOrderBook): true,
	string(interfaces.KindOHLCV):     true,
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config describes one streaming session: which exchange, which symbols,
// and which unified channels to open.
type Config struct {
	Exchange string   `yaml:"exchange"`
	Symbols  []string `yaml:"symbols"`
	Channels []string `yaml:"channels"`

	// Depth is the order book depth, used when channels includes
	// order_book.
	Depth int `yaml:"depth"`

	// Timeframe is the candle timeframe, used when channels includes ohlcv.
	Timeframe string `yaml:"timeframe"`

	LogLevel string `yaml:"log_level"`

	// Transport tunables. Zero values fall back to the connector defaults.
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	DialAttempts     int      `yaml:"dial_attempts"`
	DialDelay        Duration `yaml:"dial_delay"`
	PingInterval     Duration `yaml:"ping_interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Exchange:  "kraken",
		Symbols:   []string{"BTC/USD"},
		Channels:  []string{string(interfaces.KindTicker)},
		Depth:     100,
		Timeframe: "1m",
		LogLevel:  "info",
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration names a known exchange, at least one
// symbol, and known channels.
func (c *Config) Validate() error {
	if !knownExchanges[c.Exchange] {
		return fmt.Errorf("config: unknown exchange %q", c.Exchange)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: no symbols")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("config: no channels")
	}
	for _, ch := range c.Channels {
		if !knownChannels[ch] {
			return fmt.Errorf("config: unknown channel %q", ch)
		}
	}
	if c.Depth < 0 {
		return fmt.Errorf("config: negative depth")
	}
	return nil
}

// Options converts the transport tunables into connector options.
func (c *Config) Options() *interfaces.Options {
	opts := interfaces.NewOptions()
	opts.LogLevel = c.LogLevel
	if c.HandshakeTimeout > 0 {
		opts.HandshakeTimeout = time.Duration(c.HandshakeTimeout)
	}
	if c.DialAttempts > 0 {
		opts.DialAttempts = c.DialAttempts
	}
	if c.DialDelay > 0 {
		opts.DialDelay = time.Duration(c.DialDelay)
	}
	if c.PingInterval > 0 {
		opts.PingInterval = time.Duration(c.PingInterval)
	}
	return opts
}
