// Copyright 2024-2026 Aiku AI

package main

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/whatsapp-gateway/pkg/journal"
	"github.com/aiku/whatsapp-gateway/pkg/notify"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the gateway configuration file.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	AdminKey string         `yaml:"admin_key"`
	CORS     CORSConfig     `yaml:"cors"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Notify   NotifyConfig   `yaml:"notify"`
	Journal  journal.Config `yaml:"journal"`

	Logging zeroconfig.Config `yaml:"logging"`
}

type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port pair for net.Listen.
func (lc ListenConfig) Addr() string {
	return net.JoinHostPort(lc.Host, strconv.Itoa(lc.Port))
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type WhatsAppConfig struct {
	DataDir         string        `yaml:"data_dir"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	FallbackSend    bool          `yaml:"fallback_send"`
	CountryCode     string        `yaml:"country_code"`
}

type NotifyConfig struct {
	Mattermost notify.MattermostConfig `yaml:"mattermost"`
	Matrix     notify.MatrixConfig     `yaml:"matrix"`
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "listen", "host")
	helper.Copy(up.Int, "listen", "port")
	helper.Copy(up.Str|up.Null, "admin_key")
	helper.Copy(up.List, "cors", "allowed_origins")

	helper.Copy(up.Str, "whatsapp", "data_dir")
	helper.Copy(up.Str, "whatsapp", "reconnect_delay")
	helper.Copy(up.Str, "whatsapp", "idle_timeout")
	helper.Copy(up.Str, "whatsapp", "cleanup_interval")
	helper.Copy(up.Bool, "whatsapp", "fallback_send")
	helper.Copy(up.Str|up.Int, "whatsapp", "country_code")

	helper.Copy(up.Str, "notify", "mattermost", "server_url")
	helper.Copy(up.Str, "notify", "mattermost", "token")
	helper.Copy(up.Str, "notify", "mattermost", "channel_id")
	helper.Copy(up.Str, "notify", "matrix", "homeserver")
	helper.Copy(up.Str, "notify", "matrix", "user_id")
	helper.Copy(up.Str, "notify", "matrix", "access_token")
	helper.Copy(up.Str, "notify", "matrix", "room_id")

	helper.Copy(up.Str, "journal", "mongo_uri")
	helper.Copy(up.Str, "journal", "database")
	helper.Copy(up.Str, "journal", "collection")

	helper.Copy(up.Map, "logging")
}

var configUpgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"whatsapp"},
		{"notify"},
		{"journal"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// loadConfig reads the config file, creating it from the example when it
// does not exist, upgrades it in place unless noUpdate is set, and applies
// environment overrides.
func loadConfig(path string, noUpdate bool) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err = os.WriteFile(path, []byte(ExampleConfig), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write example config: %w", err)
		}
	}
	data, _, err := up.Do(path, !noUpdate, configUpgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return parseConfig(data, os.LookupEnv)
}

func parseConfig(data []byte, lookupEnv func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.applyEnv(lookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides config values with the environment variables the
// gateway has always honoured.
func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) error {
	if v, ok := lookupEnv("HOST"); ok && v != "" {
		c.Listen.Host = v
	}
	if v, ok := lookupEnv("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Listen.Port = port
	}
	if v, ok := lookupEnv("WHATSAPP_ADMIN_KEY"); ok {
		c.AdminKey = v
	}

	var origins []string
	if v, ok := lookupEnv("FRONT_ORIGIN"); ok {
		origins = append(origins, v)
	}
	if v, ok := lookupEnv("FRONT_ORIGINS"); ok {
		origins = append(origins, strings.Split(v, ",")...)
	}
	if origins = cleanOrigins(origins); len(origins) > 0 {
		c.CORS.AllowedOrigins = origins
	}

	if v, ok := lookupEnv("WHATSAPP_FALLBACK_SEND"); ok && v != "" {
		c.WhatsApp.FallbackSend = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v, ok := lookupEnv("WHATSAPP_LOG_LEVEL"); ok && v != "" {
		level, err := zerolog.ParseLevel(strings.ToLower(v))
		if err != nil {
			return fmt.Errorf("invalid WHATSAPP_LOG_LEVEL %q: %w", v, err)
		}
		c.Logging.MinLevel = &level
	}
	return nil
}

func cleanOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.WhatsApp.DataDir == "" {
		return errors.New("whatsapp.data_dir must be set")
	}
	if c.WhatsApp.ReconnectDelay < 0 || c.WhatsApp.IdleTimeout < 0 || c.WhatsApp.CleanupInterval < 0 {
		return errors.New("whatsapp durations must not be negative")
	}
	return nil
}
