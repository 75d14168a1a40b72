// Package config loads the TOML configuration for a frame transport process.
//
// Values are resolved in three layers: built-in defaults, keys present in the
// file, then IFT_* environment variables. A subprocess child launched by
// channel.ProcessEmbedder also picks up IFT_PARENT_ORIGIN and IFT_FRAME_NAME.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/ift/channel"
	"github.com/vinayprograms/ift/errors"
	"github.com/vinayprograms/ift/logging"
)

// Role is which end of the transport this process runs.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// Channel kinds.
const (
	ChannelWebSocket = "websocket"
	ChannelNATS      = "nats"
	ChannelAMQP      = "amqp"
	ChannelStdio     = "stdio"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreNATS   = "nats"
)

// Duration is a time.Duration read from a TOML string such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full process configuration.
type Config struct {
	Role Role `toml:"role"`

	// Origin is this process's own origin.
	Origin string `toml:"origin"`

	// RemoteOrigin is the peer's origin. For the parent it is the child
	// origin the frame is loaded from.
	RemoteOrigin string `toml:"remote_origin"`

	// AllowedOrigins are extra inbound origins accepted besides RemoteOrigin.
	AllowedOrigins []string `toml:"allowed_origins"`

	// Path is appended to RemoteOrigin to form the frame URL (parent only).
	Path string `toml:"path"`

	// Name identifies the frame. Empty lets the parent generate one.
	Name string `toml:"name"`

	// CallTimeout expires pending calls. Zero disables expiry.
	CallTimeout Duration `toml:"call_timeout"`

	Log       LogConfig       `toml:"log"`
	Channel   ChannelConfig   `toml:"channel"`
	Store     StoreConfig     `toml:"store"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// LogConfig selects log level and encoding.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ChannelConfig selects and configures the message channel.
type ChannelConfig struct {
	// Kind is websocket, nats, amqp or stdio.
	Kind string `toml:"kind"`

	// Listen is the child's WebSocket listen address.
	Listen string `toml:"listen"`

	// URL is the broker URL for nats and amqp.
	URL string `toml:"url"`

	// Subject prefixes NATS subjects, or names the AMQP exchange.
	Subject string `toml:"subject"`

	// Command starts the child process for stdio (parent only).
	Command []string `toml:"command"`

	BufferSize int `toml:"buffer_size"`
}

// StoreConfig selects the child's storage backend.
type StoreConfig struct {
	// Backend is memory or nats.
	Backend string `toml:"backend"`

	// URL is the NATS server for the nats backend. Defaults to the
	// channel URL when the channel is also NATS.
	URL string `toml:"url"`

	Bucket string `toml:"bucket"`

	// OwnWriteNotifications delivers change events for the parent's own
	// writes on the storage type.
	OwnWriteNotifications bool `toml:"own_write_notifications"`
}

// TelemetryConfig configures metrics and trace export. Empty values disable.
type TelemetryConfig struct {
	MetricsListen string  `toml:"metrics_listen"`
	Endpoint      string  `toml:"endpoint"`
	Protocol      string  `toml:"protocol"`
	Insecure      bool    `toml:"insecure"`
	SampleRatio   float64 `toml:"sample_ratio"`
}

// Default returns configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Role:        RoleParent,
		CallTimeout: Duration{30 * time.Second},
		Log: LogConfig{
			Level:  "info",
			Format: string(logging.FormatConsole),
		},
		Channel: ChannelConfig{
			Kind:       ChannelWebSocket,
			Listen:     ":8080",
			BufferSize: channel.DefaultConfig().BufferSize,
		},
		Store: StoreConfig{
			Backend:               StoreMemory,
			Bucket:                "ift-storage",
			OwnWriteNotifications: true,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			SampleRatio: 1,
		},
	}
}

// Load reads path, applies environment overrides and validates the result.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "load config "+path)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, errors.InvalidInput(fmt.Sprintf("unknown config key %q", undecoded[0].String()))
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes TOML text over the defaults without consulting the
// environment.
func Parse(text string) (*Config, error) {
	cfg := Default()
	meta, err := toml.Decode(text, cfg)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "parse config")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("unknown config key %q", undecoded[0].String()))
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup("IFT_ROLE"); ok && v != "" {
		c.Role = Role(strings.ToLower(strings.TrimSpace(v)))
	}
	str("IFT_ORIGIN", &c.Origin)
	str("IFT_REMOTE_ORIGIN", &c.RemoteOrigin)
	str("IFT_NAME", &c.Name)
	if c.Role == RoleChild {
		str("IFT_PARENT_ORIGIN", &c.RemoteOrigin)
		str("IFT_FRAME_NAME", &c.Name)
	}
	str("IFT_LOG_LEVEL", &c.Log.Level)
	str("IFT_LOG_FORMAT", &c.Log.Format)
	str("IFT_CHANNEL_KIND", &c.Channel.Kind)
	str("IFT_CHANNEL_URL", &c.Channel.URL)
	str("IFT_CHANNEL_LISTEN", &c.Channel.Listen)
	str("IFT_STORE_BACKEND", &c.Store.Backend)
	str("IFT_STORE_URL", &c.Store.URL)

	if v, ok := lookup("IFT_CALL_TIMEOUT"); ok && v != "" {
		if err := c.CallTimeout.UnmarshalText([]byte(v)); err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "parse IFT_CALL_TIMEOUT")
		}
	}
	if v, ok := lookup("IFT_OWN_WRITE_NOTIFICATIONS"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "parse IFT_OWN_WRITE_NOTIFICATIONS")
		}
		c.Store.OwnWriteNotifications = b
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleParent, RoleChild:
	default:
		return errors.InvalidInput(fmt.Sprintf("role must be parent or child, got %q", c.Role))
	}

	if c.Origin == "" {
		return errors.InvalidInput("origin is required")
	}
	if err := checkOrigin("origin", c.Origin); err != nil {
		return err
	}
	if c.RemoteOrigin == "" {
		return errors.InvalidInput("remote_origin is required")
	}
	if err := checkOrigin("remote_origin", c.RemoteOrigin); err != nil {
		return err
	}
	for _, o := range c.AllowedOrigins {
		if o == channel.AnyOrigin {
			continue
		}
		if err := checkOrigin("allowed_origins", o); err != nil {
			return err
		}
	}
	if c.CallTimeout.Duration < 0 {
		return errors.InvalidInput("call_timeout must not be negative")
	}

	switch logging.Format(c.Log.Format) {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return errors.InvalidInput(fmt.Sprintf("log.format must be console or json, got %q", c.Log.Format))
	}

	switch c.Channel.Kind {
	case ChannelWebSocket:
		if c.Role == RoleChild && c.Channel.Listen == "" {
			return errors.InvalidInput("channel.listen is required for a websocket child")
		}
	case ChannelNATS, ChannelAMQP:
		if c.Role == RoleChild && c.Name == "" {
			return errors.InvalidInput("name is required for a " + c.Channel.Kind + " child")
		}
	case ChannelStdio:
		if c.Role == RoleParent && len(c.Channel.Command) == 0 {
			return errors.InvalidInput("channel.command is required for a stdio parent")
		}
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown channel.kind %q", c.Channel.Kind))
	}
	if c.Channel.BufferSize < 0 {
		return errors.InvalidInput("channel.buffer_size must not be negative")
	}

	switch c.Store.Backend {
	case StoreMemory, StoreNATS:
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown store.backend %q", c.Store.Backend))
	}

	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return errors.InvalidInput("telemetry.sample_ratio must be between 0 and 1")
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown telemetry.protocol %q", c.Telemetry.Protocol))
	}
	return nil
}

func checkOrigin(field, origin string) error {
	got, err := channel.OriginOf(origin)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidInput, field)
	}
	if got != strings.TrimRight(origin, "/") {
		return errors.InvalidInput(fmt.Sprintf("%s %q must not carry a path", field, origin))
	}
	return nil
}

// FrameURL is the URL the parent embeds.
func (c *Config) FrameURL() string {
	return strings.TrimRight(c.RemoteOrigin, "/") + c.Path
}

// StoreURL is the NATS URL for the nats store backend.
func (c *Config) StoreURL() string {
	if c.Store.URL != "" {
		return c.Store.URL
	}
	return c.Channel.URL
}

// ChannelBase is the shared channel configuration.
func (c *Config) ChannelBase() channel.Config {
	base := channel.DefaultConfig()
	if c.Channel.BufferSize > 0 {
		base.BufferSize = c.Channel.BufferSize
	}
	return base
}

// WebSocketConfig derives the WebSocket channel configuration.
func (c *Config) WebSocketConfig() channel.WebSocketConfig {
	ws := channel.DefaultWebSocketConfig()
	ws.Config = c.ChannelBase()
	return ws
}

// NATSConfig derives the NATS connection and channel configuration.
func (c *Config) NATSConfig(url string) channel.NATSConfig {
	nc := channel.DefaultNATSConfig()
	nc.Config = c.ChannelBase()
	if url != "" {
		nc.URL = url
	}
	if c.Channel.Subject != "" {
		nc.SubjectPrefix = c.Channel.Subject
	}
	nc.Name = "ift-" + string(c.Role)
	return nc
}

// AMQPConfig derives the AMQP channel configuration.
func (c *Config) AMQPConfig() channel.AMQPConfig {
	ac := channel.DefaultAMQPConfig()
	ac.Config = c.ChannelBase()
	if c.Channel.URL != "" {
		ac.URL = c.Channel.URL
	}
	if c.Channel.Subject != "" {
		ac.Exchange = c.Channel.Subject
	}
	return ac
}

// AcceptedOrigins is RemoteOrigin followed by AllowedOrigins.
func (c *Config) AcceptedOrigins() []string {
	return append([]string{c.RemoteOrigin}, c.AllowedOrigins...)
}

// Logger builds the process logger from the [log] section.
func (c *Config) Logger() *logging.Logger {
	log := logging.New()
	log.SetOutput(os.Stderr)
	log.SetFormat(logging.Format(c.Log.Format))
	log.SetLevel(logging.ParseLevel(c.Log.Level))
	return log
}
