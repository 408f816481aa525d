package monitor

import "go.uber.org/zap"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the log at warn level.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Send(message string) error {
	s.Log.Warnf("ALERT %s", message)
	return nil
}
