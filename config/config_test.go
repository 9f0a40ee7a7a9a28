package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-p4bridge/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "p4bridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, uint64(1), cfg.Bridge.DeviceID)
	assert.Equal(t, "[::]:9559", cfg.Bridge.Listen)
	assert.Equal(t, "Flow", cfg.Bridge.FlowRelation)
	assert.Equal(t, ":memory:", cfg.Bridge.Database)
	assert.Equal(t, 5*time.Second, cfg.Switch.ProbeInterval.Duration)
	assert.Equal(t, time.Second, cfg.Switch.InitialBackoff.Duration)
	assert.Equal(t, 8*time.Second, cfg.Switch.MaxBackoff.Duration)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
[bridge]
device_id = 7
p4info = "snvs.p4info.txt"

[switch]
target = "tcp:127.0.0.1:6653"
max_backoff = "30s"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cfg.Bridge.DeviceID)
	assert.Equal(t, "snvs.p4info.txt", cfg.Bridge.P4Info)
	assert.Equal(t, "[::]:9559", cfg.Bridge.Listen, "unset keys keep their default")
	assert.Equal(t, "tcp:127.0.0.1:6653", cfg.Switch.Target)
	assert.Equal(t, 30*time.Second, cfg.Switch.MaxBackoff.Duration)
	assert.Equal(t, 5*time.Second, cfg.Switch.ProbeInterval.Duration)
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "syntax", body: "[bridge\n"},
		{name: "bad duration", body: "[switch]\nprobe_interval = \"soon\"\n"},
		{name: "unknown key", body: "[bridge]\ndevice = 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "no listen address", mutate: func(c *config.Config) { c.Bridge.Listen = "" }},
		{name: "no flow relation", mutate: func(c *config.Config) { c.Bridge.FlowRelation = "" }},
		{name: "no target", mutate: func(c *config.Config) { c.Switch.Target = "" }},
		{name: "zero probe interval", mutate: func(c *config.Config) { c.Switch.ProbeInterval.Duration = 0 }},
		{name: "max below initial backoff", mutate: func(c *config.Config) { c.Switch.MaxBackoff.Duration = time.Millisecond }},
		{name: "bad log level", mutate: func(c *config.Config) { c.Logging.Level = "loud" }},
		{name: "bad log format", mutate: func(c *config.Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoggingToSpec(t *testing.T) {
	c := config.LoggingConfig{Components: map[string]string{"server": "debug", "manager": "trace"}}
	assert.Equal(t, "info,manager=trace,server=debug", c.ToSpec())

	c.Level = "warn"
	assert.Equal(t, "warn", c.ToSpec(), "level wins over components")

	assert.Empty(t, (&config.LoggingConfig{}).ToSpec())
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := config.Load("../examples/snvs/p4bridge.toml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "examples/snvs/snvs.p4info.txt", cfg.Bridge.P4Info)
}
