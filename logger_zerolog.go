package wschain

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

type zerologLogger struct {
	z zerolog.Logger
}

// NewZerologLogger adapts a zerolog.Logger.
func NewZerologLogger(z zerolog.Logger) Logger {
	return zerologLogger{z: z}
}

// NopLogger discards everything.
func NopLogger() Logger {
	return zerologLogger{z: zerolog.Nop()}
}

func (l zerologLogger) WithField(key string, value any) Logger {
	return zerologLogger{z: l.z.With().Interface(key, value).Logger()}
}

func (l zerologLogger) Debug(args ...any) { l.z.Debug().Msg(fmt.Sprint(args...)) }

func (l zerologLogger) Debugf(format string, args ...any) { l.z.Debug().Msgf(format, args...) }

func (l zerologLogger) Debugln(args ...any) { l.z.Debug().Msg(sprintln(args...)) }

func (l zerologLogger) Info(args ...any) { l.z.Info().Msg(fmt.Sprint(args...)) }

func (l zerologLogger) Infof(format string, args ...any) { l.z.Info().Msgf(format, args...) }

func (l zerologLogger) Infoln(args ...any) { l.z.Info().Msg(sprintln(args...)) }

func (l zerologLogger) Warn(args ...any) { l.z.Warn().Msg(fmt.Sprint(args...)) }

func (l zerologLogger) Warnf(format string, args ...any) { l.z.Warn().Msgf(format, args...) }

func (l zerologLogger) Warnln(args ...any) { l.z.Warn().Msg(sprintln(args...)) }

func (l zerologLogger) Error(args ...any) { l.z.Error().Msg(fmt.Sprint(args...)) }

func (l zerologLogger) Errorf(format string, args ...any) { l.z.Error().Msgf(format, args...) }

func (l zerologLogger) Errorln(args ...any) { l.z.Error().Msg(sprintln(args...)) }

// zerolog terminates every event with its own newline.
func sprintln(args ...any) string {
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n")
}
