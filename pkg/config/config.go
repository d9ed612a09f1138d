// Package config layers defaults, an optional pingpong.toml, the environment and command line
// flags into one Config.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/sessamekesh/pingpong-netcode/pkg/transport"
)

const (
	EnvPrefix      = "PINGPONG"
	ConfigFileName = "pingpong"

	Env_Production  = "production"
	Env_Development = "development"
)

type ServerConfig struct {
	DropProbability   float64       `mapstructure:"drop_probability"`
	MinResponseDelay  time.Duration `mapstructure:"min_response_delay"`
	MaxResponseDelay  time.Duration `mapstructure:"max_response_delay"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	MaxConnections    int           `mapstructure:"max_connections"`
}

type ClientConfig struct {
	SessionDuration time.Duration `mapstructure:"session_duration"`
	MinPingInterval time.Duration `mapstructure:"min_ping_interval"`
	MaxPingInterval time.Duration `mapstructure:"max_ping_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	RequestLimit    uint64        `mapstructure:"request_limit"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`

	// Count and Stagger only apply to the in-process launcher.
	Count   int           `mapstructure:"count"`
	Stagger time.Duration `mapstructure:"stagger"`
}

type Config struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`

	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	Transport      string   `mapstructure:"transport"`
	WsEndpoint     string   `mapstructure:"ws_endpoint"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	LogDir string `mapstructure:"log_dir"`
	// Seed 0 seeds from the current time.
	Seed int64 `mapstructure:"seed"`

	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("env", Env_Production)
	v.SetDefault("log_level", "info")

	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8888)
	v.SetDefault("transport", transport.Kind_TCP)
	v.SetDefault("ws_endpoint", "/ws")
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("log_dir", ".")
	v.SetDefault("seed", 0)

	v.SetDefault("server.drop_probability", 0.1)
	v.SetDefault("server.min_response_delay", 100*time.Millisecond)
	v.SetDefault("server.max_response_delay", time.Second)
	v.SetDefault("server.keepalive_interval", 5*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Second)
	v.SetDefault("server.max_connections", 0)

	v.SetDefault("client.session_duration", 300*time.Second)
	v.SetDefault("client.min_ping_interval", 300*time.Millisecond)
	v.SetDefault("client.max_ping_interval", 3*time.Second)
	v.SetDefault("client.request_timeout", 5*time.Second)
	v.SetDefault("client.sweep_interval", 2*time.Second)
	v.SetDefault("client.request_limit", 0)
	v.SetDefault("client.write_timeout", 5*time.Second)
	v.SetDefault("client.count", 2)
	v.SetDefault("client.stagger", 500*time.Millisecond)
}

// New returns a viper instance with every default registered and PINGPONG_* environment
// variables bound. APP_ENV is honored as an alias for PINGPONG_ENV.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("env", EnvPrefix+"_ENV", "APP_ENV")

	return v
}

// Load reads configFile, or pingpong.toml from the working directory if configFile is empty
// and such a file exists, and decodes the result.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", configFile)
		}
	} else {
		v.SetConfigName(ConfigFileName)
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config file")
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

// Validate reports every invalid setting, not just the first.
func (c *Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			err = multierr.Append(err, errors.Errorf(format, args...))
		}
	}

	check(c.Env == Env_Production || c.Env == Env_Development, "env must be %q or %q, got %q", Env_Production, Env_Development, c.Env)
	check(validLogLevel(c.LogLevel), "log_level %q is not one of debug, info, warn, error", c.LogLevel)
	check(c.Port > 0 && c.Port < 65536, "port %d is out of range", c.Port)
	check(c.Transport == transport.Kind_TCP || c.Transport == transport.Kind_Websocket, "transport must be %q or %q, got %q", transport.Kind_TCP, transport.Kind_Websocket, c.Transport)
	check(strings.HasPrefix(c.WsEndpoint, "/"), "ws_endpoint %q must start with '/'", c.WsEndpoint)

	check(c.Server.DropProbability >= 0 && c.Server.DropProbability <= 1, "server.drop_probability %v is outside [0, 1]", c.Server.DropProbability)
	check(c.Server.MinResponseDelay >= 0, "server.min_response_delay must not be negative")
	check(c.Server.MaxResponseDelay >= c.Server.MinResponseDelay, "server.max_response_delay %s is below server.min_response_delay %s", c.Server.MaxResponseDelay, c.Server.MinResponseDelay)
	check(c.Server.KeepaliveInterval > 0, "server.keepalive_interval must be positive")
	check(c.Server.WriteTimeout > 0, "server.write_timeout must be positive")
	check(c.Server.MaxConnections >= 0, "server.max_connections must not be negative")

	check(c.Client.SessionDuration >= 0, "client.session_duration must not be negative")
	check(c.Client.MinPingInterval > 0, "client.min_ping_interval must be positive")
	check(c.Client.MaxPingInterval >= c.Client.MinPingInterval, "client.max_ping_interval %s is below client.min_ping_interval %s", c.Client.MaxPingInterval, c.Client.MinPingInterval)
	check(c.Client.RequestTimeout > 0, "client.request_timeout must be positive")
	check(c.Client.SweepInterval > 0, "client.sweep_interval must be positive")
	check(c.Client.WriteTimeout > 0, "client.write_timeout must be positive")
	check(c.Client.Count > 0, "client.count must be positive")
	check(c.Client.Stagger >= 0, "client.stagger must not be negative")

	return err
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) ListenParams() transport.ListenParams {
	return transport.ListenParams{
		Kind:              c.Transport,
		Address:           c.Address(),
		WebsocketEndpoint: c.WsEndpoint,
		AllowedOrigins:    c.AllowedOrigins,
		WriteTimeout:      c.Server.WriteTimeout,
	}
}

func (c *Config) DialParams() transport.DialParams {
	return transport.DialParams{
		Kind:              c.Transport,
		Address:           c.Address(),
		WebsocketEndpoint: c.WsEndpoint,
		WriteTimeout:      c.Client.WriteTimeout,
	}
}

func (c *Config) ServerLogFile() string {
	return filepath.Join(c.LogDir, "server.log")
}

// ClientLogFile is the per-session event log of client n.
func (c *Config) ClientLogFile(n int) string {
	return filepath.Join(c.LogDir, fmt.Sprintf("client_%d.log", n))
}
