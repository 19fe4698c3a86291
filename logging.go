package community

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type zerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger adapts a zerolog logger to Logger.
func NewZerologLogger(l zerolog.Logger) Logger {
	return &zerologLogger{log: l}
}

// NewConsoleLogger returns a human friendly zerolog console logger tagged with app.
func NewConsoleLogger(app, level string) Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	l := zerolog.New(output).With().Timestamp().Str("app", app).Logger().Level(parseLevel(level))
	return NewZerologLogger(l)
}

func (z *zerologLogger) Debug(format string, args ...any) { z.log.Debug().Msgf(format, args...) }
func (z *zerologLogger) Info(format string, args ...any)  { z.log.Info().Msgf(format, args...) }
func (z *zerologLogger) Warn(format string, args ...any)  { z.log.Warn().Msgf(format, args...) }
func (z *zerologLogger) Error(format string, args ...any) { z.log.Error().Msgf(format, args...) }

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
