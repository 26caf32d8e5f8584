package featurestore

import "go.uber.org/zap"

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, v ...interface{})
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger logs through zap at info level. Use it with WithErrorLogger
// and NewZapErrorLogger to split errors out.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{sugar: l.Sugar()}
}

func (l *zapLogger) Printf(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

type zapErrorLogger struct {
	sugar *zap.SugaredLogger
}

func NewZapErrorLogger(l *zap.Logger) Logger {
	return &zapErrorLogger{sugar: l.Sugar()}
}

func (l *zapErrorLogger) Printf(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}
