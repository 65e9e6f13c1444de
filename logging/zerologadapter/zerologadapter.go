package zerologadapter

import (
	"fmt"

	"github.com/amqpio/amqpio/logging"
	"github.com/rs/zerolog"
)

var _ = (logging.Logger)((*ZerologLoggerWrapper)(nil))

func New(l zerolog.Logger) *ZerologLoggerWrapper {
	return &ZerologLoggerWrapper{
		logger: l,
	}
}

type ZerologLoggerWrapper struct {
	logger zerolog.Logger
}

func (l *ZerologLoggerWrapper) Debugf(format string, args ...any) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *ZerologLoggerWrapper) Infof(format string, args ...any) {
	l.logger.Info().Msgf(format, args...)
}

func (l *ZerologLoggerWrapper) Warnf(format string, args ...any) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *ZerologLoggerWrapper) Errorf(format string, args ...any) {
	l.logger.Error().Msgf(format, args...)
}

func (l *ZerologLoggerWrapper) Debug(args ...any) {
	l.logger.Debug().Msg(fmt.Sprint(args...))
}

func (l *ZerologLoggerWrapper) Info(args ...any) {
	l.logger.Info().Msg(fmt.Sprint(args...))
}

func (l *ZerologLoggerWrapper) Warn(args ...any) {
	l.logger.Warn().Msg(fmt.Sprint(args...))
}

func (l *ZerologLoggerWrapper) Error(args ...any) {
	l.logger.Error().Msg(fmt.Sprint(args...))
}

func (l *ZerologLoggerWrapper) WithError(err error) logging.Logger {
	return &ZerologLoggerWrapper{logger: l.logger.With().Err(err).Logger()}
}

func (l *ZerologLoggerWrapper) WithField(key string, value any) logging.Logger {
	return &ZerologLoggerWrapper{logger: l.logger.With().Interface(key, value).Logger()}
}

func (l *ZerologLoggerWrapper) WithFields(fields logging.Fields) logging.Logger {
	return &ZerologLoggerWrapper{logger: l.logger.With().Fields(map[string]any(fields)).Logger()}
}
