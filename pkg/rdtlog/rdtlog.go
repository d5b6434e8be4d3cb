// Package rdtlog provides the connection-scoped structured logger used
// throughout rdt-go. It keeps the teacher codebase's call shape (Info,
// Warn, Error, Success, Debug, Banner) but delegates formatting and
// level filtering to logrus instead of a bespoke ANSI-coloring wrapper,
// so every log line carries the connection id as a structured field a log
// aggregator can index; WithFields can attach further fields per call.
package rdtlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel sets the minimum level logged by every Logger.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// Logger is a per-connection front end over the shared logrus instance,
// pre-tagging every line with a connection id the way the teacher's
// Session carries its own address for log correlation.
type Logger struct {
	entry *logrus.Entry
}

// New returns a Logger tagged with connID (typically an Endpoint's
// correlation uuid.String()).
func New(connID string) *Logger {
	return &Logger{entry: base.WithField("conn", connID)}
}

// WithFields returns a derived Logger carrying additional structured
// fields (e.g. seq/ack/state) for one log call's context.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) Debug(format string, args ...interface{})   { l.entry.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})    { l.entry.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})    { l.entry.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{})   { l.entry.Errorf(format, args...) }
func (l *Logger) Success(format string, args ...interface{}) { l.entry.Infof("OK: "+format, args...) }

// Banner prints a startup banner for the CLI binaries. Kept for parity
// with the teacher's pkg/logger.Banner, trimmed to a single line since
// structured logs are the primary sink now.
func Banner(title, version string) {
	base.WithField("version", version).Info(title)
}
