// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package logging builds the zap loggers used by the httpflow command.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation settings of log files.
const (
	MaxSizeMB  = 100
	MaxBackups = 3
	MaxAgeDays = 28
)

// New returns a logger writing entries at level or above.
//
// If file is empty, entries are written to standard error in a human
// readable format. Otherwise they are written to file as JSON, and the
// file is rotated once it grows past MaxSizeMB.
func New(level, file string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if file == "" {
		return newLogger(os.Stderr, lvl, false), nil
	}
	w := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    MaxSizeMB,
		MaxBackups: MaxBackups,
		MaxAge:     MaxAgeDays,
		Compress:   true,
	}
	return newLogger(w, lvl, true), nil
}

// ParseLevel parses a level name such as "debug" or "warn". The empty
// string means info.
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return lvl, fmt.Errorf("httpflow/logging: %w", err)
	}
	return lvl, nil
}

func newLogger(w io.Writer, lvl zapcore.Level, json bool) *zap.Logger {
	var enc zapcore.Encoder
	if json {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(w), lvl)
	return zap.New(core)
}
