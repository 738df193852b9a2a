/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, os.Stdout, nil)
}

// SetupWithWriter configures zerolog to write to out, teeing raw JSON lines
// into capture (the admin log buffer) when it is non-nil.
//
// Development gets a colourised console at debug level; every other
// environment emits JSON at info level.
func SetupWithWriter(environment string, out io.Writer, capture io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	var primary io.Writer = out
	if environment == "development" {
		level = zerolog.DebugLevel
		primary = zerolog.ConsoleWriter{Out: out}
	}

	writer := primary
	if capture != nil {
		writer = zerolog.MultiLevelWriter(primary, capture)
	}

	logger := zerolog.New(writer).With().Timestamp().Str("service", "queuecast").Logger().Level(level)
	log.Logger = logger
	return logger
}

// Component returns a child logger tagged with a component name, the field
// the log buffer groups on.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
