package whatsapp

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-assistant/pkg/logger"
)

// zapLog adapts the service logger to whatsmeow's logger interface.
type zapLog struct {
	l *logger.Logger
}

var _ waLog.Logger = zapLog{}

func newZapLog(l *logger.Logger) waLog.Logger {
	return zapLog{l: l}
}

func (z zapLog) Warnf(msg string, args ...interface{})  { z.l.Warn(fmt.Sprintf(msg, args...)) }
func (z zapLog) Errorf(msg string, args ...interface{}) { z.l.Error(fmt.Sprintf(msg, args...)) }
func (z zapLog) Infof(msg string, args ...interface{})  { z.l.Info(fmt.Sprintf(msg, args...)) }
func (z zapLog) Debugf(msg string, args ...interface{}) {
	if z.l.Core().Enabled(zap.DebugLevel) {
		z.l.Debug(fmt.Sprintf(msg, args...))
	}
}

func (z zapLog) Sub(module string) waLog.Logger {
	return zapLog{l: z.l.Named(module)}
}
