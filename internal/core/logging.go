package core

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var once sync.Once

type logger struct {
	*log.Logger
}

var singleton *logger

func getLogger() *logger {
	if singleton == nil {
		once.Do(func() {
			l := log.NewWithOptions(os.Stderr, log.Options{
				ReportCaller:    true,
				ReportTimestamp: true,
				TimeFormat:      time.RFC3339,
				Prefix:          "skrender 🔺 ",
			})
			l.SetLevel(log.DebugLevel)
			singleton = &logger{l}
		})
	}
	return singleton
}

// SetLevel adjusts the package-wide log level. Intended to be called once
// during Renderer init from config.Settings.
func SetLevel(level log.Level) {
	getLogger().SetLevel(level)
}

func LogDebug(msg string, args ...interface{}) {
	getLogger().Debugf(msg, args...)
}

func LogInfo(msg string, args ...interface{}) {
	getLogger().Infof(msg, args...)
}

func LogWarn(msg string, args ...interface{}) {
	getLogger().Warnf(msg, args...)
}

func LogError(msg string, args ...interface{}) {
	getLogger().Errorf(msg, args...)
}

// LogCritical is used for programmer errors that are recovered from by
// skipping the offending unit of work (missing binding, ref-count
// imbalance, ring overrun). It never panics or exits the process.
func LogCritical(msg string, args ...interface{}) {
	getLogger().Errorf("critical: "+msg, args...)
}

func LogFatal(msg string, args ...interface{}) {
	getLogger().Errorf("fatal: "+msg, args...)
}
