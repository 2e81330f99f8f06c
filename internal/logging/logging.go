// Copyright (c) The SwiftRegistry Authors
// SPDX-License-Identifier: MPL-2.0

// Package logging configures the process-wide logger used by the registry
// client. Log output is off by default and enabled through the
// SWIFT_REGISTRY_LOG environment variable, optionally redirected to a file
// with SWIFT_REGISTRY_LOG_PATH.
package logging

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

const (
	envLog     = "SWIFT_REGISTRY_LOG"
	envLogFile = "SWIFT_REGISTRY_LOG_PATH"
)

// ValidLevels are the log level names understood by SWIFT_REGISTRY_LOG.
var ValidLevels = []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "OFF"}

var logger hclog.Logger

// logWriter is an io.Writer that writes through to the root logger, for
// handing to libraries that want a plain writer (e.g. retryablehttp).
var logWriter io.Writer

func init() {
	logger = newHCLogger("swiftregistry")
	logWriter = logger.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true})

	// The standard library's global logger is used by the rest of this
	// module with level prefixes like "[TRACE]"; route it through hclog so
	// that the level filtering applies uniformly.
	log.SetFlags(0)
	log.SetPrefix("")
	log.SetOutput(logWriter)
}

func newHCLogger(name string) hclog.Logger {
	logOutput := io.Writer(os.Stderr)

	if logPath := os.Getenv(envLogFile); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Printf("[ERROR] failed to open log file %q: %s", logPath, err)
		} else {
			logOutput = f
		}
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:              name,
		Level:             globalLogLevel(),
		Output:            logOutput,
		IndependentLevels: true,
	})
}

// HCLogger returns the root logger.
func HCLogger() hclog.Logger {
	return logger
}

// LogOutput returns the writer that log output should be written to, suitable
// for libraries that only accept an io.Writer or a *log.Logger.
func LogOutput() io.Writer {
	return logWriter
}

// IsDebugOrHigher returns whether the current log level is at least DEBUG.
func IsDebugOrHigher() bool {
	return logger.IsDebug() || logger.IsTrace()
}

func globalLogLevel() hclog.Level {
	envLevel := strings.ToUpper(strings.TrimSpace(os.Getenv(envLog)))
	if envLevel == "" || envLevel == "OFF" {
		return hclog.Off
	}
	if envLevel == "TRUE" {
		return hclog.Trace
	}
	for _, l := range ValidLevels {
		if envLevel == l {
			return hclog.LevelFromString(envLevel)
		}
	}
	// An unrecognized level degrades to the most verbose setting rather
	// than silently discarding logs the user asked for.
	return hclog.Trace
}
