package config

import (
	toml "github.com/pelletier/go-toml/v2"
)

// TOML renders the effective configuration in the same layout pingpong.toml is read in.
// Durations are written as strings so the output can be loaded back.
func (c *Config) TOML() ([]byte, error) {
	origins := c.AllowedOrigins
	if origins == nil {
		origins = []string{}
	}

	doc := map[string]any{
		"env":             c.Env,
		"log_level":       c.LogLevel,
		"host":            c.Host,
		"port":            c.Port,
		"transport":       c.Transport,
		"ws_endpoint":     c.WsEndpoint,
		"allowed_origins": origins,
		"log_dir":         c.LogDir,
		"seed":            c.Seed,
		"server": map[string]any{
			"drop_probability":   c.Server.DropProbability,
			"min_response_delay": c.Server.MinResponseDelay.String(),
			"max_response_delay": c.Server.MaxResponseDelay.String(),
			"keepalive_interval": c.Server.KeepaliveInterval.String(),
			"write_timeout":      c.Server.WriteTimeout.String(),
			"max_connections":    c.Server.MaxConnections,
		},
		"client": map[string]any{
			"session_duration":  c.Client.SessionDuration.String(),
			"min_ping_interval": c.Client.MinPingInterval.String(),
			"max_ping_interval": c.Client.MaxPingInterval.String(),
			"request_timeout":   c.Client.RequestTimeout.String(),
			"sweep_interval":    c.Client.SweepInterval.String(),
			"request_limit":     c.Client.RequestLimit,
			"write_timeout":     c.Client.WriteTimeout.String(),
			"count":             c.Client.Count,
			"stagger":           c.Client.Stagger.String(),
		},
	}
	return toml.Marshal(doc)
}
