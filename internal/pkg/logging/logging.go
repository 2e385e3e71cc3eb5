// SPDX-FileCopyrightText: Copyright (c) 2026, CIQ, Inc. All rights reserved
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog.Logger used across the repository
// engine, mirroring the level/format configuration shape used elsewhere
// in this codebase.
package logging

import (
	"fmt"
	"log/slog"
	"os"
)

// Config selects the level and output format for a Logger.
type Config struct {
	Level  string `ini:"level"`
	Format string `ini:"format"`
}

// Logger builds a *slog.Logger from the configuration. handlerWrapper, if
// non-nil, lets a caller inject tracing/attribute middleware around the
// base handler.
func (c *Config) Logger(handlerWrapper func(handler slog.Handler) slog.Handler) (*slog.Logger, error) {
	var handler slog.Handler
	var opts slog.HandlerOptions

	switch c.Level {
	case "debug":
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	case "info", "":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", c.Level)
	}

	switch c.Format {
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, &opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}

	if handlerWrapper != nil {
		return slog.New(handlerWrapper(handler)), nil
	}

	return slog.New(handler), nil
}

// Default returns a logger usable when the caller did not configure one.
func Default() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
