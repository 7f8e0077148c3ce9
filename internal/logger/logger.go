// Package logger configures the hub's structured logging.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide logger, configured by Initialize.
var Log zerolog.Logger

// Initialize sets up the global logger. Call once at process start.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "msghub").Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// Component returns a sub-logger tagged with a component name, the way
// the teacher's logger.WebSocket()/logger.Database()/etc. do.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}

// Handshake returns the sub-logger used by the handshake package.
func Handshake() zerolog.Logger { return Component("handshake") }

// Connection returns the sub-logger used by the connection package.
func Connection() zerolog.Logger { return Component("connection") }

// Broker returns the sub-logger used by the broker package.
func Broker() zerolog.Logger { return Component("broker") }

// Store returns the sub-logger used by the store package.
func Store() zerolog.Logger { return Component("store") }

// Bus returns the sub-logger used by the bus package.
func Bus() zerolog.Logger { return Component("bus") }
