package spvledger

import (
	"github.com/btcsuite/btclog"
	"github.com/commerceblock/spvledger/build"
	"github.com/commerceblock/spvledger/credentials"
	"github.com/commerceblock/spvledger/headerchain"
	"github.com/commerceblock/spvledger/ledger"
	"github.com/commerceblock/spvledger/ledgerdb"
	"github.com/commerceblock/spvledger/monitoring"
	"github.com/commerceblock/spvledger/proofstate"
	"github.com/commerceblock/spvledger/signal"
	"github.com/commerceblock/spvledger/txstore"
)

// Subsystem is the logging code of the daemon itself.
const Subsystem = "SPVL"

// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling InitLogRotator on the root logger's writer.
var (
	// rootLogger is the writer and subsystem registry of the daemon.
	rootLogger = newRootLogger()

	// spvlLog is the daemon's own logger. Critical messages trigger a
	// shutdown once the interceptor is set up.
	spvlLog = build.NewSubLogger(Subsystem, rootLogger.genSubLogger)
)

// RootLogger owns the rotating log file and the loggers of every
// subsystem, which all write to a single backend.
type RootLogger struct {
	writer  *build.RotatingLogWriter
	backend *btclog.Backend

	subLoggers build.SubLoggers
}

// newRootLogger creates the backend and registers every subsystem.
func newRootLogger() *RootLogger {
	writer := build.NewRotatingLogWriter()
	r := &RootLogger{
		writer: writer,
		backend: btclog.NewBackend(&build.LogWriter{
			Rotator: writer,
		}),
		subLoggers: make(build.SubLoggers),
	}

	r.register(ledger.Subsystem, ledger.UseLogger)
	r.register(txstore.Subsystem, txstore.UseLogger)
	r.register(proofstate.Subsystem, proofstate.UseLogger)
	r.register(credentials.Subsystem, credentials.UseLogger)
	r.register(ledgerdb.Subsystem, ledgerdb.UseLogger)
	r.register(headerchain.Subsystem, headerchain.UseLogger)
	r.register(monitoring.Subsystem, monitoring.UseLogger)
	r.register(signal.Subsystem, signal.UseLogger)

	return r
}

// genSubLogger creates a logger for subsystem on the shared backend.
func (r *RootLogger) genSubLogger(subsystem string) btclog.Logger {
	logger := r.backend.Logger(subsystem)
	r.subLoggers[subsystem] = logger

	return logger
}

// register hands a freshly built logger to a package.
func (r *RootLogger) register(subsystem string,
	useLogger func(btclog.Logger)) {

	useLogger(build.NewSubLogger(subsystem, r.genSubLogger))
}

// InitLogRotator starts writing to logFile.
func (r *RootLogger) InitLogRotator(cfg *build.LogConfig,
	logFile string) error {

	return r.writer.InitLogRotator(cfg, logFile)
}

// Close flushes and closes the log file.
func (r *RootLogger) Close() error {
	return r.writer.Close()
}

// SubLoggers returns the registered subsystem loggers.
//
// NOTE: This is part of the build.LeveledSubLogger interface.
func (r *RootLogger) SubLoggers() build.SubLoggers {
	return r.subLoggers
}

// SupportedSubsystems returns the sorted codes of every subsystem.
func (r *RootLogger) SupportedSubsystems() []string {
	return r.subLoggers.Names()
}

// SetLogLevel sets the level of a registered subsystem. Unknown subsystems
// are ignored and invalid levels fall back to info.
//
// NOTE: This is part of the build.LeveledSubLogger interface.
func (r *RootLogger) SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := r.subLoggers[subsystemID]
	if !ok {
		return
	}

	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the level of every registered subsystem.
//
// NOTE: This is part of the build.LeveledSubLogger interface.
func (r *RootLogger) SetLogLevels(logLevel string) {
	for subsystemID := range r.subLoggers {
		r.SetLogLevel(subsystemID, logLevel)
	}
}

var _ build.LeveledSubLogger = (*RootLogger)(nil)
