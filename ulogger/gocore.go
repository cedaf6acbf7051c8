package ulogger

import (
	"strings"

	"github.com/ordishs/gocore"
	"go.uber.org/atomic"
)

var levelNames = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

// parseLevel returns the gocore level for name, INFO when name is unknown.
func parseLevel(name string) int32 {
	name = strings.ToUpper(name)

	for i, n := range levelNames {
		if n == name {
			return int32(i)
		}
	}

	return int32(gocore.INFO)
}

// GoCoreLogger writes through gocore's per-package loggers. gocore keeps one logger per name with the
// level it was created with, so every GoCoreLogger filters on its own level.
type GoCoreLogger struct {
	log     *gocore.Logger
	service string
	level   *atomic.Int32
}

func NewGoCoreLogger(service string, options ...Option) *GoCoreLogger {
	if service == "" {
		service = "nodekeeper"
	}

	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	return &GoCoreLogger{
		log:     gocore.Log(service, gocore.DEBUG),
		service: service,
		level:   atomic.NewInt32(parseLevel(opts.logLevel)),
	}
}

func (g *GoCoreLogger) LogLevel() int {
	return int(g.level.Load())
}

func (g *GoCoreLogger) SetLogLevel(level string) {
	g.level.Store(parseLevel(level))
}

func (g *GoCoreLogger) enabled(level int32) bool {
	return level >= g.level.Load()
}

func (g *GoCoreLogger) Debugf(format string, args ...interface{}) {
	if g.enabled(int32(gocore.DEBUG)) {
		g.log.Debugf(format, args...)
	}
}

func (g *GoCoreLogger) Infof(format string, args ...interface{}) {
	if g.enabled(int32(gocore.INFO)) {
		g.log.Infof(format, args...)
	}
}

func (g *GoCoreLogger) Warnf(format string, args ...interface{}) {
	if g.enabled(int32(gocore.WARN)) {
		g.log.Warnf(format, args...)
	}
}

func (g *GoCoreLogger) Errorf(format string, args ...interface{}) {
	if g.enabled(int32(gocore.ERROR)) {
		g.log.Errorf(format, args...)
	}
}

func (g *GoCoreLogger) Fatalf(format string, args ...interface{}) {
	g.log.Fatalf(format, args...)
}

// New returns a logger for service with the level of g unless WithLevel overrides it.
func (g *GoCoreLogger) New(service string, options ...Option) Logger {
	return NewGoCoreLogger(service, append([]Option{WithLevel(levelNames[g.LogLevel()])}, options...)...)
}

// Duplicate shares the gocore logger of g with an independent level.
func (g *GoCoreLogger) Duplicate(options ...Option) Logger {
	opts := &Options{logLevel: levelNames[g.LogLevel()]}
	for _, o := range options {
		o(opts)
	}

	return &GoCoreLogger{
		log:     g.log,
		service: g.service,
		level:   atomic.NewInt32(parseLevel(opts.logLevel)),
	}
}
