package store

import (
	"strings"
	"time"
)

const (
	busyMaxAttempts = 5
	busyBaseDelay   = 10 * time.Millisecond
)

// isSQLiteBusy reports whether err is SQLite lock contention.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn, retrying with exponential backoff while SQLite
// reports lock contention. Other errors are returned unchanged.
func retryOnBusy(fn func() error) error {
	delay := busyBaseDelay
	var err error
	for attempt := 1; attempt <= busyMaxAttempts; attempt++ {
		err = fn()
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt < busyMaxAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
