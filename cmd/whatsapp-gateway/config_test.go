// Copyright 2024-2026 Aiku AI

package main

import (
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestExampleConfigParses(t *testing.T) {
	t.Parallel()
	cfg, err := parseConfig([]byte(ExampleConfig), noEnv)
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Listen.Port != 3001 {
		t.Errorf("Listen.Port: got %d, want 3001", cfg.Listen.Port)
	}
	if cfg.WhatsApp.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay: got %v, want 5s", cfg.WhatsApp.ReconnectDelay)
	}
	if cfg.WhatsApp.IdleTimeout != 30*time.Minute {
		t.Errorf("IdleTimeout: got %v, want 30m", cfg.WhatsApp.IdleTimeout)
	}
	if cfg.WhatsApp.CountryCode != "55" {
		t.Errorf("CountryCode: got %q, want 55", cfg.WhatsApp.CountryCode)
	}
	if cfg.AdminKey != "" {
		t.Error("example config must not ship an admin key")
	}
	if len(cfg.Logging.Writers) == 0 {
		t.Error("example config should configure log writers")
	}
}

func TestListenAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cfg  ListenConfig
		want string
	}{
		{ListenConfig{Host: "0.0.0.0", Port: 3001}, "0.0.0.0:3001"},
		{ListenConfig{Host: "", Port: 80}, ":80"},
		{ListenConfig{Host: "::1", Port: 8080}, "[::1]:8080"},
	}
	for _, tt := range tests {
		if got := tt.cfg.Addr(); got != tt.want {
			t.Errorf("Addr(%+v): got %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg, err := parseConfig([]byte(ExampleConfig), envMap(map[string]string{
		"HOST":                   "127.0.0.1",
		"PORT":                   "3030",
		"WHATSAPP_ADMIN_KEY":     "s3cret",
		"FRONT_ORIGIN":           "http://localhost:5173",
		"FRONT_ORIGINS":          " https://app.example.com, ,https://admin.example.com",
		"WHATSAPP_FALLBACK_SEND": "TRUE",
		"WHATSAPP_LOG_LEVEL":     "warn",
	}))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Listen.Addr() != "127.0.0.1:3030" {
		t.Errorf("Listen: got %q", cfg.Listen.Addr())
	}
	if cfg.AdminKey != "s3cret" {
		t.Errorf("AdminKey: got %q", cfg.AdminKey)
	}
	wantOrigins := []string{"http://localhost:5173", "https://app.example.com", "https://admin.example.com"}
	if !slices.Equal(cfg.CORS.AllowedOrigins, wantOrigins) {
		t.Errorf("AllowedOrigins: got %v, want %v", cfg.CORS.AllowedOrigins, wantOrigins)
	}
	if !cfg.WhatsApp.FallbackSend {
		t.Error("FallbackSend should be enabled")
	}
	if cfg.Logging.MinLevel == nil || *cfg.Logging.MinLevel != zerolog.WarnLevel {
		t.Errorf("MinLevel: got %v, want warn", cfg.Logging.MinLevel)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port", map[string]string{"PORT": "http"}},
		{"log level", map[string]string{"WHATSAPP_LOG_LEVEL": "loud"}},
		{"port range", map[string]string{"PORT": "70000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := parseConfig([]byte(ExampleConfig), envMap(tt.env)); err == nil {
				t.Error("parseConfig should fail")
			}
		})
	}
}

func TestValidateRequiresDataDir(t *testing.T) {
	t.Parallel()
	input := `
listen:
    port: 3001
`
	if _, err := parseConfig([]byte(input), noEnv); err == nil {
		t.Error("config without whatsapp.data_dir should be rejected")
	}
}

func TestUpgradeConfig(t *testing.T) {
	t.Parallel()
	var baseNode yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &baseNode); err != nil {
		t.Fatalf("failed to parse base config: %v", err)
	}

	userCfg := `
listen:
    port: 4000
admin_key: hunter2
whatsapp:
    reconnect_delay: 10s
    fallback_send: true
notify:
    mattermost:
        server_url: http://mm.local:8065
`
	var cfgNode yaml.Node
	if err := yaml.Unmarshal([]byte(userCfg), &cfgNode); err != nil {
		t.Fatalf("failed to parse user config: %v", err)
	}

	helper := up.NewHelper(&baseNode, &cfgNode)
	upgradeConfig(helper)

	if val, ok := helper.Get(up.Int, "listen", "port"); !ok || val != "4000" {
		t.Errorf("listen.port after upgrade: got %q, ok=%v", val, ok)
	}
	if val, ok := helper.Get(up.Str, "admin_key"); !ok || val != "hunter2" {
		t.Errorf("admin_key after upgrade: got %q, ok=%v", val, ok)
	}
	if val, ok := helper.Get(up.Str, "whatsapp", "reconnect_delay"); !ok || val != "10s" {
		t.Errorf("whatsapp.reconnect_delay after upgrade: got %q, ok=%v", val, ok)
	}
	if val, ok := helper.Get(up.Str, "notify", "mattermost", "server_url"); !ok || val != "http://mm.local:8065" {
		t.Errorf("notify.mattermost.server_url after upgrade: got %q, ok=%v", val, ok)
	}
	// Keys missing from the user config keep the example defaults.
	if val, ok := helper.Get(up.Str, "whatsapp", "data_dir"); !ok || val != "./data/whatsapp" {
		t.Errorf("whatsapp.data_dir after upgrade: got %q, ok=%v", val, ok)
	}
}
