package config

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NewLogger builds the production logger, or the development one when Env is development.
func (c *Config) NewLogger() (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if c.Env == Env_Development {
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "parse log level %q", c.LogLevel)
	}
	zapConfig.Level = level

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}
