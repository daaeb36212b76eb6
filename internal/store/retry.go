package store

import (
	"context"
	"strings"
	"time"
)

const (
	writeRetries    = 3
	writeRetryDelay = 50 * time.Millisecond
)

// isSQLiteConflict checks if the error is a SQLITE_BUSY or "database is
// locked" error. Both are concurrency errors that warrant retry logic.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withWriteRetry runs fn, retrying a few times on SQLite concurrency
// conflicts. Both participants and the background workers write the same
// rows, so short lock contention is expected under WAL.
func withWriteRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		err = fn()
		if !isSQLiteConflict(err) {
			return err
		}
		if attempt == writeRetries-1 {
			break
		}
		select {
		case <-time.After(writeRetryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
