// Package ulogger is the logging facade. Services receive a Logger from the daemon's logger factory and
// derive per-service loggers from it with New.
package ulogger

type Logger interface {
	LogLevel() int
	SetLogLevel(level string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	New(service string, options ...Option) Logger
	Duplicate(options ...Option) Logger
}

// loggerTypes maps the "logger" setting onto a constructor.
var loggerTypes = map[string]func(service string, options ...Option) Logger{
	"zerolog": func(service string, options ...Option) Logger { return NewZeroLogger(service, options...) },
	"gocore":  func(service string, options ...Option) Logger { return NewGoCoreLogger(service, options...) },
}

// New returns a logger of the configured type for service. Unknown types get a zerolog logger.
func New(service string, options ...Option) Logger {
	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	if newLogger, ok := loggerTypes[opts.loggerType]; ok {
		return newLogger(service, options...)
	}

	return NewZeroLogger(service, options...)
}
