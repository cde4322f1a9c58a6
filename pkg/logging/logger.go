// Package logging configures zerolog for the Bauplan client and CLI.
//
// Log lines are JSON on stderr unless Pretty is set. Fields used across the
// module:
//
//	component    emitting package ("bauplan-client")
//	cli_version  set on every line the CLI writes
//	operation    catalog or job operation (get_tables, merge_branch, ...)
//	path         request path
//	ref          pinned ref a cached response was read at
//	job_id       plan or apply job
//	error_class  retry class (client, server, rate_limit, network, unsafe)
package logging

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a verbosity accepted by --log-level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON to zerolog's console format.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// Fields are attached to every line, e.g. the CLI version.
	Fields map[string]string
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup installs a logger built from cfg as the global zerolog logger and
// returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	lc := zerolog.New(out).With().Timestamp()
	keys := make([]string, 0, len(cfg.Fields))
	for k := range cfg.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		lc = lc.Str(k, cfg.Fields[k])
	}

	logger := lc.Logger()
	log.Logger = logger
	return logger
}

// ParseLevel validates a user-supplied level name. An empty name means info.
func ParseLevel(name string) (LogLevel, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "":
		return LevelInfo, nil
	case "warning":
		return LevelWarn, nil
	default:
		if _, ok := zerologLevels[LogLevel(n)]; ok {
			return LogLevel(n), nil
		}
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", name)
	}
}

// parseLevel maps a level to zerolog, falling back to info.
func parseLevel(level LogLevel) zerolog.Level {
	if l, err := ParseLevel(string(level)); err == nil {
		return zerologLevels[l]
	}
	return zerolog.InfoLevel
}

// NewLogger derives a logger tagged with component from the global one.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
