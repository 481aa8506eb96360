// Package logging hands out prefixed gommon loggers, the same logger echo
// uses, so component output and request logs share one format.
package logging

import (
	"strings"
	"sync"

	"github.com/labstack/gommon/log"
)

var (
	mu      sync.Mutex
	level   = log.INFO
	loggers = map[string]*log.Logger{}
)

// New returns the logger for a component, creating it on first use.
func New(prefix string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[prefix]; ok {
		return l
	}
	l := log.New(prefix)
	l.SetLevel(level)
	loggers[prefix] = l
	return l
}

// SetLevel applies a level name (debug, info, warn, error, off) to every
// logger handed out so far and to those created later.
func SetLevel(name string) {
	lvl := ParseLevel(name)

	mu.Lock()
	defer mu.Unlock()
	level = lvl
	for _, l := range loggers {
		l.SetLevel(lvl)
	}
	log.SetLevel(lvl)
}

func ParseLevel(name string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}
