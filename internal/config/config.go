// Package config loads the server's textual configuration file with viper
// and applies the defaults and derived values described by the external
// interface table.
package config

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/htrefil/multichat/internal/auth"
)

// Config is the fully resolved server configuration.
type Config struct {
	Listen string `mapstructure:"listen"`

	TLS struct {
		Certificate string `mapstructure:"certificate"`
		Key         string `mapstructure:"key"`
	} `mapstructure:"tls"`

	QUIC struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"quic"`

	UpdateBuffer int    `mapstructure:"update-buffer"`
	MaxSizeRaw   string `mapstructure:"max-size"`
	MaxSize      uint32 `mapstructure:"-"`

	PingIntervalRaw string        `mapstructure:"ping-interval"`
	PingTimeoutRaw  string        `mapstructure:"ping-timeout"`
	PingInterval    time.Duration `mapstructure:"-"`
	PingTimeout     time.Duration `mapstructure:"-"`

	RateLimit float64 `mapstructure:"rate-limit"`

	AccessTokensRaw []string `mapstructure:"access-tokens"`
	AllowList       *auth.AllowList

	AdminListen string `mapstructure:"admin-listen"`
}

// Load reads the config file at path and resolves it into a Config, applying
// defaults for every optional key.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("update-buffer", 256)
	v.SetDefault("max-size", "65535B")
	v.SetDefault("ping-interval", "30s")
	v.SetDefault("ping-timeout", "5s")
	v.SetDefault("rate-limit", 0.0)
	v.SetDefault("admin-listen", "")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.Listen == "" {
		return Config{}, fmt.Errorf("config: \"listen\" is required")
	}

	maxSize, err := humanize.ParseBytes(cfg.MaxSizeRaw)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse max-size %q: %w", cfg.MaxSizeRaw, err)
	}
	cfg.MaxSize = uint32(maxSize)

	cfg.PingInterval, err = time.ParseDuration(cfg.PingIntervalRaw)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse ping-interval %q: %w", cfg.PingIntervalRaw, err)
	}
	cfg.PingTimeout, err = time.ParseDuration(cfg.PingTimeoutRaw)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse ping-timeout %q: %w", cfg.PingTimeoutRaw, err)
	}

	tokens := make([]auth.Token, 0, len(cfg.AccessTokensRaw))
	for _, raw := range cfg.AccessTokensRaw {
		tok, err := auth.ParseToken(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse access-tokens entry: %w", err)
		}
		tokens = append(tokens, tok)
	}
	cfg.AllowList = auth.NewAllowList(tokens)

	if (cfg.TLS.Certificate == "") != (cfg.TLS.Key == "") {
		return Config{}, fmt.Errorf("config: tls.certificate and tls.key must both be set or both be empty")
	}

	return cfg, nil
}
