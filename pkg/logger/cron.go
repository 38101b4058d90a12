package logger

import (
	"go.uber.org/zap"
)

// CronLogger adapts Logger to the cron.Logger interface.
type CronLogger struct {
	sugar *zap.SugaredLogger
}

// Cron returns a cron.Logger backed by l.
func (l *Logger) Cron() *CronLogger {
	return &CronLogger{sugar: l.Logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// Info logs routine cron messages at debug level.
func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.sugar.Debugw(msg, keysAndValues...)
}

// Error logs cron failures, including recovered job panics.
func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
