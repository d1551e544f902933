// Package logging configures the process-wide zerolog logger used across
// the CATS engine, connection handling, and test suites.
package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "CATS_LOG_LEVEL"
	EnvLogTimestamp = "CATS_LOG_TIMESTAMP"
	EnvLogNoColor   = "CATS_LOG_NOCOLOR"
)

// Profile selects a base logging configuration before env overrides apply.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var configureOnce sync.Once

// ConfigureRuntime installs the runtime logging profile exactly once.
func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

// ConfigureTests installs the test logging profile exactly once.
func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure installs the global zerolog logger for the given profile.
// Subsequent calls in the same process are no-ops.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		level, withTimestamp, noColor := defaultSettings(profile)
		applyEnvOverrides(&level, &withTimestamp, &noColor)

		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			NoColor:    noColor,
		}
		ctx := zerolog.New(output).Level(level).With()
		if withTimestamp {
			ctx = ctx.Timestamp()
		}
		logger := ctx.Str("app", "cats").Logger()
		log.Logger = logger
	})
}

func defaultSettings(profile Profile) (level zerolog.Level, withTimestamp bool, noColor bool) {
	switch profile {
	case ProfileTest:
		return zerolog.DebugLevel, false, true
	default:
		return zerolog.InfoLevel, true, false
	}
}

func applyEnvOverrides(level *zerolog.Level, withTimestamp, noColor *bool) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		*level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		*withTimestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		*noColor = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
