package nodepool

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
)

// getZeroLogLevel maps the configured logrus level onto zerolog's enum, the
// way the teacher's node type bridges the two logging libraries for
// components that are zerolog-native internally.
func getZeroLogLevel(log logrus.FieldLogger) zerolog.Level {
	if log == nil {
		return zerolog.NoLevel
	}

	var logLevel logrus.Level

	switch v := log.(type) {
	case *logrus.Logger:
		logLevel = v.GetLevel()
	case *logrus.Entry:
		logLevel = v.Logger.GetLevel()
	default:
		return zerolog.NoLevel
	}

	switch logLevel {
	case logrus.DebugLevel:
		return zerolog.DebugLevel
	case logrus.InfoLevel:
		return zerolog.InfoLevel
	case logrus.WarnLevel:
		return zerolog.WarnLevel
	case logrus.ErrorLevel:
		return zerolog.ErrorLevel
	case logrus.FatalLevel:
		return zerolog.FatalLevel
	case logrus.PanicLevel:
		return zerolog.PanicLevel
	default:
		return zerolog.NoLevel
	}
}

// newProbeDiagnostics builds a structured zerolog.Logger, leveled from log,
// for per-node health-probe diagnostics: a higher-volume, machine-readable
// stream distinct from the main logrus audit log.
func newProbeDiagnostics(log logrus.FieldLogger) zerolog.Logger {
	return zerolog.New(os.Stderr).Level(getZeroLogLevel(log)).With().Str("component", "nodepool").Logger()
}
