package tank

import "github.com/sirupsen/logrus"

// HostLogMessage is sent to the host at the start of every synchronous execution.
const HostLogMessage = "[tankbridge] execute tank command"

// Host receives diagnostic notifications from the bridge. Log is
// fire-and-forget and may be called from a background goroutine.
type Host interface {
	Log(msg string)
}

// HostFunc adapts a function to the Host interface.
type HostFunc func(msg string)

// Log calls f(msg).
func (f HostFunc) Log(msg string) { f(msg) }

// NopHost discards every notification.
type NopHost struct{}

// Log does nothing.
func (NopHost) Log(string) {}

// LoggerHost forwards notifications to a logrus logger at info level.
type LoggerHost struct {
	Logger logrus.FieldLogger
}

// Log writes msg to the logger.
func (h LoggerHost) Log(msg string) {
	h.Logger.WithField("source", "host").Info(msg)
}
