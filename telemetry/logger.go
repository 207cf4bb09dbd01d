package telemetry

import (
	stackdriver "github.com/TV4/logrus-stackdriver-formatter"
	"github.com/sirupsen/logrus"

	"github.com/dapperlabs/fork-journal/server/config"
)

var logger *logrus.Logger

// Logger returns the process wide logger, formatted for stackdriver
// outside of local development.
func Logger() *logrus.Logger {
	if logger == nil {
		logger = logrus.StandardLogger()
		if config.Platform() != config.Local {
			logger.Formatter = stackdriver.NewFormatter(
				stackdriver.WithService(config.Telemetry().ServiceName),
			)
		}
	}
	return logger
}

func DebugLog(message string) {
	Logger().Debug(message)
}
