// cmd/probe/logger.go
package main

import (
	"go.uber.org/zap"

	"github.com/tamzrod/inverter-probe/internal/config"
)

// newLogger builds the process logger from the log section.
func newLogger(c config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}

	lvl, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = lvl

	return zc.Build()
}
