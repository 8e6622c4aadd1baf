package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose enables or disables Verbosef output.
func SetVerbose(on bool) {
	verbose.Store(on)
}

// IsVerbose reports whether Verbosef output is enabled.
func IsVerbose() bool {
	return verbose.Load()
}

// Verbosef logs through Logf only when verbose output is on. Use it for
// per-sample chatter that would drown a normal log.
func Verbosef(format string, v ...interface{}) {
	if verbose.Load() {
		Logf(format, v...)
	}
}

// Warnf logs a recoverable anomaly, such as a suspicious device stamp or
// a rejected sample.
func Warnf(format string, v ...interface{}) {
	Logf("Warning: "+format, v...)
}
