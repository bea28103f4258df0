package build

import (
	"sync"

	"github.com/btcsuite/btclog"
)

// ShutdownLogger is a logger whose critical messages request a daemon
// shutdown. The daemon logs fatal ledger load errors through it. Shutdown is
// requested at most once no matter how many critical lines follow.
type ShutdownLogger struct {
	btclog.Logger

	once     sync.Once
	shutdown func()
}

// NewShutdownLogger wraps logger so that critical messages call shutdown.
func NewShutdownLogger(logger btclog.Logger, shutdown func()) *ShutdownLogger {
	return &ShutdownLogger{
		Logger:   logger,
		shutdown: shutdown,
	}
}

// Criticalf logs at LevelCritical and requests a shutdown.
//
// NOTE: Part of the btclog.Logger interface.
func (s *ShutdownLogger) Criticalf(format string, params ...interface{}) {
	s.Logger.Criticalf(format, params...)
	s.requestShutdown()
}

// Critical logs at LevelCritical and requests a shutdown.
//
// NOTE: Part of the btclog.Logger interface.
func (s *ShutdownLogger) Critical(v ...interface{}) {
	s.Logger.Critical(v...)
	s.requestShutdown()
}

func (s *ShutdownLogger) requestShutdown() {
	s.once.Do(func() {
		s.Logger.Info("Critical error, requesting shutdown")
		s.shutdown()
	})
}
