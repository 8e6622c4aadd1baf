package db

import (
	"strings"
	"time"
)

const (
	busyMaxAttempts = 5
	busyBaseBackoff = 10 * time.Millisecond
)

// isSQLiteBusy reports whether err is SQLite refusing a write because
// another connection holds the lock.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn, retrying with exponential backoff while SQLite
// reports the database as busy. Other errors are returned immediately.
func retryOnBusy(fn func() error) error {
	var err error
	for attempt := 0; attempt < busyMaxAttempts; attempt++ {
		if err = fn(); !isSQLiteBusy(err) {
			return err
		}
		if attempt < busyMaxAttempts-1 {
			time.Sleep(busyBaseBackoff << attempt)
		}
	}
	return err
}
