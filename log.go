package boulder

import "github.com/sirupsen/logrus"

// newDefaultLogger builds the logger used when Options.Logger is nil:
// timestamped text output at info level, matching what the engine has
// always printed to the console.
func newDefaultLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	log.SetLevel(logrus.InfoLevel)
	return log
}
