package sqlite

import (
	"strings"
	"time"

	"github.com/banshee-data/cotrend/internal/timeutil"
)

const (
	maxBusyRetries = 5
	baseBusyDelay  = 10 * time.Millisecond
)

// isSQLiteBusy reports whether err is a transient lock conflict.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn, retrying with exponential backoff on clock while it
// fails with SQLITE_BUSY. Other errors are returned immediately.
func retryOnBusy(clock timeutil.Clock, fn func() error) error {
	var err error
	delay := baseBusyDelay
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		if err = fn(); !isSQLiteBusy(err) {
			return err
		}
		if attempt < maxBusyRetries-1 {
			clock.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
