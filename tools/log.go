package tools

import (
	"github.com/modfin/henry/mapz"
	"github.com/sirupsen/logrus"
)

// LoggerCloner hands out named copies of a base logger so every subsystem
// tags its entries with a "who" field while sharing output, level and hooks.
func LoggerCloner(base *logrus.Logger) *Logger {
	return &Logger{base: base}
}

type Logger struct {
	base *logrus.Logger
}

func (l *Logger) New(name string) *logrus.Logger {
	clone := &logrus.Logger{
		Out:          l.base.Out,
		Formatter:    l.base.Formatter,
		Hooks:        mapz.Clone(l.base.Hooks),
		Level:        l.base.Level,
		ExitFunc:     l.base.ExitFunc,
		ReportCaller: l.base.ReportCaller,
	}
	clone.AddHook(LoggerWho{Name: name})
	return clone
}

type LoggerWho struct {
	Name string
}

func (w LoggerWho) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (w LoggerWho) Fire(entry *logrus.Entry) error {
	entry.Data["who"] = w.Name
	return nil
}
