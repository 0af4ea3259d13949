// package logging provides the structured, leveled logger shared by
// cmd/ssmd and the event sink's log mirror. It wraps charmbracelet/log so
// operational messages get consistent formatting without every package
// constructing its own logger.
package logging // import "github.com/securesshmanager/ssm/internal/logging"

import (
	"fmt"

	clog "github.com/charmbracelet/log"
)

// L is the package-level logger. Callers should use the helper functions
// below rather than calling L directly, so log call sites stay uniform.
var L = clog.New()

// SetLevel adjusts the minimum level that gets written.
func SetLevel(level clog.Level) {
	L.SetLevel(level)
}

// Debugf logs a debug-level formatted message.
func Debugf(format string, v ...interface{}) {
	L.Debug(fmt.Sprintf(format, v...))
}

// Infof logs an info-level formatted message.
func Infof(format string, v ...interface{}) {
	L.Info(fmt.Sprintf(format, v...))
}

// Warnf logs a warning-level formatted message.
func Warnf(format string, v ...interface{}) {
	L.Warn(fmt.Sprintf(format, v...))
}

// Errorf logs an error-level formatted message.
func Errorf(format string, v ...interface{}) {
	L.Error(fmt.Sprintf(format, v...))
}
