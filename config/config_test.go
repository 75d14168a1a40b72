package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinayprograms/ift/errors"
)

const parentTOML = `
role = "parent"
origin = "http://app.example"
remote_origin = "http://storage.example"
path = "/frame"
name = "main"
call_timeout = "2s"

[log]
level = "debug"
format = "json"

[channel]
kind = "nats"
url = "nats://broker:4222"
subject = "frames"

[store]
own_write_notifications = true

[telemetry]
metrics_listen = ":9090"
endpoint = "collector:4317"
sample_ratio = 0.5
`

func TestParse(t *testing.T) {
	cfg, err := Parse(parentTOML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.Role != RoleParent {
		t.Errorf("role = %q", cfg.Role)
	}
	if cfg.FrameURL() != "http://storage.example/frame" {
		t.Errorf("frame url = %q", cfg.FrameURL())
	}
	if cfg.CallTimeout.Duration != 2*time.Second {
		t.Errorf("call timeout = %v", cfg.CallTimeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Channel.Kind != ChannelNATS || cfg.Channel.Subject != "frames" {
		t.Errorf("channel = %+v", cfg.Channel)
	}
	if !cfg.Store.OwnWriteNotifications {
		t.Error("own_write_notifications not decoded")
	}
	if cfg.Telemetry.SampleRatio != 0.5 {
		t.Errorf("sample ratio = %v", cfg.Telemetry.SampleRatio)
	}
}

func TestParse_KeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := Parse(`
origin = "http://app.example"
remote_origin = "http://storage.example"
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	def := Default()
	if cfg.Channel.Kind != def.Channel.Kind {
		t.Errorf("channel kind = %q, want %q", cfg.Channel.Kind, def.Channel.Kind)
	}
	if cfg.Store.Bucket != def.Store.Bucket {
		t.Errorf("bucket = %q", cfg.Store.Bucket)
	}
	if cfg.CallTimeout != def.CallTimeout {
		t.Errorf("call timeout = %v", cfg.CallTimeout)
	}
	if cfg.Telemetry.SampleRatio != 1 {
		t.Errorf("sample ratio = %v", cfg.Telemetry.SampleRatio)
	}
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse(`
origin = "http://app.example"
remote_origin = "http://storage.example"
colour = "blue"
`)
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestParse_BadDuration(t *testing.T) {
	_, err := Parse(`
origin = "http://app.example"
remote_origin = "http://storage.example"
call_timeout = "soon"
`)
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Origin = "http://app.example"
		c.RemoteOrigin = "http://storage.example"
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad role", func(c *Config) { c.Role = "sibling" }},
		{"missing origin", func(c *Config) { c.Origin = "" }},
		{"missing remote origin", func(c *Config) { c.RemoteOrigin = "" }},
		{"origin with path", func(c *Config) { c.Origin = "http://app.example/x" }},
		{"remote origin without scheme", func(c *Config) { c.RemoteOrigin = "storage.example" }},
		{"bad allowed origin", func(c *Config) { c.AllowedOrigins = []string{"nope"} }},
		{"negative timeout", func(c *Config) { c.CallTimeout.Duration = -time.Second }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"unknown channel", func(c *Config) { c.Channel.Kind = "carrier-pigeon" }},
		{"stdio parent without command", func(c *Config) { c.Channel.Kind = ChannelStdio }},
		{"websocket child without listen", func(c *Config) {
			c.Role = RoleChild
			c.Channel.Listen = ""
		}},
		{"nats child without name", func(c *Config) {
			c.Role = RoleChild
			c.Channel.Kind = ChannelNATS
		}},
		{"unknown store", func(c *Config) { c.Store.Backend = "redis" }},
		{"sample ratio above one", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }},
		{"unknown protocol", func(c *Config) { c.Telemetry.Protocol = "udp" }},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if !errors.Is(err, errors.ErrCodeInvalidInput) {
				t.Errorf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
}

func TestValidate_AllowsWildcardOrigin(t *testing.T) {
	c := Default()
	c.Origin = "http://app.example"
	c.RemoteOrigin = "http://storage.example"
	c.AllowedOrigins = []string{"*"}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"IFT_ROLE":          "Child",
		"IFT_ORIGIN":        " http://storage.example ",
		"IFT_PARENT_ORIGIN": "http://app.example",
		"IFT_FRAME_NAME":    "ift_abc",
		"IFT_CHANNEL_KIND":  "stdio",
		"IFT_LOG_LEVEL":     "warn",
		"IFT_CALL_TIMEOUT":  "750ms",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	c := Default()
	if err := c.ApplyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}

	if c.Role != RoleChild {
		t.Errorf("role = %q", c.Role)
	}
	if c.Origin != "http://storage.example" {
		t.Errorf("origin = %q", c.Origin)
	}
	if c.RemoteOrigin != "http://app.example" {
		t.Errorf("remote origin = %q", c.RemoteOrigin)
	}
	if c.Name != "ift_abc" {
		t.Errorf("name = %q", c.Name)
	}
	if c.Channel.Kind != ChannelStdio {
		t.Errorf("channel kind = %q", c.Channel.Kind)
	}
	if c.Log.Level != "warn" {
		t.Errorf("log level = %q", c.Log.Level)
	}
	if c.CallTimeout.Duration != 750*time.Millisecond {
		t.Errorf("call timeout = %v", c.CallTimeout)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestApplyEnv_ParentIgnoresFrameVariables(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "IFT_PARENT_ORIGIN" {
			return "http://elsewhere.example", true
		}
		return "", false
	}

	c := Default()
	c.RemoteOrigin = "http://storage.example"
	if err := c.ApplyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if c.RemoteOrigin != "http://storage.example" {
		t.Errorf("remote origin overwritten: %q", c.RemoteOrigin)
	}
}

func TestApplyEnv_BadValues(t *testing.T) {
	for _, key := range []string{"IFT_CALL_TIMEOUT", "IFT_OWN_WRITE_NOTIFICATIONS"} {
		t.Run(key, func(t *testing.T) {
			lookup := func(k string) (string, bool) {
				if k == key {
					return "bogus", true
				}
				return "", false
			}
			err := Default().ApplyEnv(lookup)
			if !errors.Is(err, errors.ErrCodeInvalidInput) {
				t.Errorf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parent.toml")
	if err := os.WriteFile(path, []byte(parentTOML), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IFT_NAME", "override")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "override" {
		t.Errorf("name = %q, want env override", cfg.Name)
	}
	if cfg.StoreURL() != "nats://broker:4222" {
		t.Errorf("store url = %q", cfg.StoreURL())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestChannelConfigs(t *testing.T) {
	cfg, err := Parse(parentTOML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	nc := cfg.NATSConfig(cfg.Channel.URL)
	if nc.URL != "nats://broker:4222" || nc.SubjectPrefix != "frames" {
		t.Errorf("nats config = %+v", nc)
	}
	if nc.Name != "ift-parent" {
		t.Errorf("nats client name = %q", nc.Name)
	}

	ac := cfg.AMQPConfig()
	if ac.Exchange != "frames" {
		t.Errorf("exchange = %q", ac.Exchange)
	}
	if ac.URL != "nats://broker:4222" {
		t.Errorf("amqp url = %q", ac.URL)
	}

	cfg.Channel.BufferSize = 7
	if got := cfg.WebSocketConfig().BufferSize; got != 7 {
		t.Errorf("buffer size = %d", got)
	}

	cfg.AllowedOrigins = []string{"http://other.example"}
	got := cfg.AcceptedOrigins()
	if len(got) != 2 || got[0] != "http://storage.example" || got[1] != "http://other.example" {
		t.Errorf("accepted origins = %v", got)
	}
}
