// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for Aleutian components.
//
// The learner is a long-running service, so the defaults favor JSON on
// stdout (container log collection) with an optional file destination
// for bare-metal installs:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "/var/log/aleutian",
//	    Service: "learner",
//	})
//	defer logger.Close()
//	logger.Info("starting", "port", port)
//
// All output goes through slog; Slog() exposes the underlying logger
// for packages that take a *slog.Logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Level is the minimum severity that gets logged.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level; unknown strings are Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config controls logger construction.
type Config struct {
	// Level is the minimum severity to emit.
	Level Level

	// LogDir, when set, adds a JSON log file named
	// {service}_{date}.log in that directory. The directory is
	// created if missing.
	LogDir string

	// Service names the component in log file names and the
	// "service" attribute.
	Service string

	// Output overrides the primary destination (default: stdout).
	// Used by tests.
	Output io.Writer
}

// Logger wraps slog with file lifecycle management.
type Logger struct {
	slogger *slog.Logger
	file    *os.File
}

// New builds a logger from config.
//
// A LogDir that cannot be created degrades to primary-only output with
// a warning on stderr; logging setup never fails startup.
func New(config Config) *Logger {
	primary := config.Output
	if primary == nil {
		primary = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	var file *os.File
	out := primary

	if config.LogDir != "" {
		if err := os.MkdirAll(config.LogDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot create %s: %v\n", config.LogDir, err)
		} else {
			name := fmt.Sprintf("%s_%s.log", config.Service, time.Now().UTC().Format("2006-01-02"))
			f, err := os.OpenFile(filepath.Join(config.LogDir, name),
				os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "logging: cannot open log file: %v\n", err)
			} else {
				file = f
				out = io.MultiWriter(primary, f)
			}
		}
	}

	slogger := slog.New(slog.NewJSONHandler(out, opts))
	if config.Service != "" {
		slogger = slogger.With(slog.String("service", config.Service))
	}
	return &Logger{slogger: slogger, file: file}
}

// Default returns a stdout-only Info-level logger.
func Default() *Logger {
	return New(Config{Level: LevelInfo})
}

// Slog returns the underlying slog logger for dependency injection.
func (l *Logger) Slog() *slog.Logger {
	return l.slogger
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slogger.Debug(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.slogger.Info(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slogger.Warn(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.slogger.Error(msg, args...) }

// With returns a logger carrying additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slogger: l.slogger.With(args...), file: l.file}
}

// Close flushes and closes the log file, if any. Safe to call on a
// logger without one.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
