// Package main is the entry point for the recordsync service.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/stacklok/recordsync/cmd/recordsync/app"
	"github.com/stacklok/recordsync/internal/config"
	"github.com/stacklok/recordsync/internal/logging"
)

// getLogLevel reads RECORDSYNC_LOG_LEVEL, falling back to LOG_LEVEL
func getLogLevel() slog.Level {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	level, ok := logging.ParseLevel(levelStr)
	if !ok && levelStr != "" {
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
	}
	return level
}

func getLogFormat() logging.Format {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	if logging.Format(strings.ToLower(v.GetString("LOG_FORMAT"))) == logging.FormatText {
		return logging.FormatText
	}
	return logging.FormatJSON
}

func main() {
	// stderr keeps stdout clean for commands that print data
	slog.SetDefault(slog.New(logging.NewHandler(os.Stderr, getLogFormat(), getLogLevel())))

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
