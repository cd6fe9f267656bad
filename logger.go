package restengine

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the minimal structured logging interface the engine emits to.
// Keys and values alternate in keysAndValues.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// zeroLogger adapts a zerolog.Logger to the Logger interface.
type zeroLogger struct {
	zlog zerolog.Logger
}

// NewZeroLogger builds a zerolog-backed Logger at the given level. If pretty
// is true, output is formatted for human readability on stdout; otherwise
// JSON lines are written.
func NewZeroLogger(level string, pretty bool) Logger {
	var l zerolog.Logger
	if pretty {
		l = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	} else {
		l = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	zLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		zLevel = zerolog.InfoLevel
	}
	return &zeroLogger{zlog: l.Level(zLevel)}
}

// WrapZerolog adapts an existing zerolog.Logger, letting the engine share an
// application's configured logger.
func WrapZerolog(l zerolog.Logger) Logger {
	return &zeroLogger{zlog: l}
}

func (z *zeroLogger) Debug(msg string, keysAndValues ...any) {
	z.emit(z.zlog.Debug(), msg, keysAndValues)
}

func (z *zeroLogger) Info(msg string, keysAndValues ...any) {
	z.emit(z.zlog.Info(), msg, keysAndValues)
}

func (z *zeroLogger) Warn(msg string, keysAndValues ...any) {
	z.emit(z.zlog.Warn(), msg, keysAndValues)
}

func (z *zeroLogger) Error(msg string, keysAndValues ...any) {
	z.emit(z.zlog.Error(), msg, keysAndValues)
}

func (z *zeroLogger) emit(event *zerolog.Event, msg string, keysAndValues []any) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		event = event.Interface(key, keysAndValues[i+1])
	}
	event.Msg(msg)
}

// nopLogger discards everything; it is the default when no logger is set.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
