// Package logx holds the process logger. It always writes to stderr because stdout may
// carry the protocol stream.
package logx

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Log is the shared logger used throughout the project.
var Log = zerolog.New(os.Stderr).With().Timestamp().Logger()

func init() {
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Configure sets the global level by name. Unknown names fall back to info.
func Configure(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "all", "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "none", "off", "disabled":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Console switches to human readable output.
func Console() {
	Log = Log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// With returns a logger carrying the session fields.
func With(sessionID, serverName string) zerolog.Logger {
	ctx := Log.With().Str("session", sessionID)
	if serverName != "" {
		ctx = ctx.Str("server", serverName)
	}
	return ctx.Logger()
}
