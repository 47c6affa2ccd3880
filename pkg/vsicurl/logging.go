package vsicurl

import "github.com/sirupsen/logrus"

// Logger is the bridging interface this package logs through, grounded on
// the teacher's own logging.Logger shape: anything satisfying
// logrus.FieldLogger works, so embedders can pass a *logrus.Entry,
// *logrus.Logger, or their own adapter.
type Logger interface {
	logrus.FieldLogger
}

// defaultLogger returns a package-level logrus entry used when a Config
// doesn't set one explicitly.
func defaultLogger() Logger {
	return logrus.NewEntry(logrus.StandardLogger())
}
