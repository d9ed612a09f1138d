package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sessamekesh/pingpong-netcode/pkg/config"
)

// cli carries the layered configuration from flag parsing to the subcommand that uses it.
type cli struct {
	v          *viper.Viper
	configFile string

	// Subcommands share flag names, so their flags are bound only once the command that
	// runs is known.
	commandKeys map[*cobra.Command]map[string]string

	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{
		v:           config.New(),
		commandKeys: make(map[*cobra.Command]map[string]string),
	}

	rootCmd := &cobra.Command{
		Use:           "pingpong",
		Short:         "Ping/pong protocol server and clients with simulated latency, drops and timeouts",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if keys, has := c.commandKeys[cmd]; has {
				c.bind(cmd.Flags(), keys)
			}
			return c.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "Path to a TOML config file (default ./pingpong.toml if present)")
	flags.String("env", config.Env_Production, "Logger flavor: production or development")
	flags.String("log-level", "info", "Operational log level: debug, info, warn or error")
	flags.String("host", "127.0.0.1", "Server host")
	flags.Int("port", 8888, "Server port")
	flags.String("transport", "tcp", "Transport: tcp or ws")
	flags.String("ws-endpoint", "/ws", "HTTP endpoint for WebSocket connections")
	flags.String("log-dir", ".", "Directory for the per-session event logs")
	flags.Int64("seed", 0, "Random seed for drops, delays and ping jitter (0 seeds from the clock)")
	c.bind(flags, map[string]string{
		"env":         "env",
		"log-level":   "log_level",
		"host":        "host",
		"port":        "port",
		"transport":   "transport",
		"ws-endpoint": "ws_endpoint",
		"log-dir":     "log_dir",
		"seed":        "seed",
	})

	rootCmd.AddCommand(
		newServerCmd(c),
		newClientCmd(c),
		newRunCmd(c),
		newConfigCmd(c),
		newVersionCmd(),
	)

	return rootCmd
}

func (c *cli) bindOnRun(cmd *cobra.Command, keys map[string]string) {
	c.commandKeys[cmd] = keys
}

func (c *cli) bind(flags *pflag.FlagSet, keys map[string]string) {
	for flagName, key := range keys {
		if err := c.v.BindPFlag(key, flags.Lookup(flagName)); err != nil {
			panic(errors.Wrapf(err, "bind flag --%s", flagName))
		}
	}
}

func (c *cli) load() error {
	cfg, err := config.Load(c.v, c.configFile)
	if err != nil {
		return errors.Wrap(err, "load config failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return errors.Wrap(err, "create logger failed")
	}

	c.cfg = cfg
	c.log = logger
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// sleepContext waits for d, returning false if ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
