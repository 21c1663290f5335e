package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/recallkit/pkg/types"
)

// Both drivers report contention through the error text: mattn uses
// sqlite3.ErrBusy/ErrLocked whose messages are "database is locked" and
// "database table is locked", modernc reports "SQLITE_BUSY"/"SQLITE_LOCKED".
var busyMarkers = []string{
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"sqlite_locked",
}

// IsBusy reports whether err is a transient contention failure that is worth
// retrying. Everything else is a hard failure.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrStoreBusy) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range busyMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classify wraps contention failures with types.ErrStoreBusy so callers can
// test for them with errors.Is
func classify(err error) error {
	if err == nil || errors.Is(err, types.ErrStoreBusy) {
		return err
	}
	if IsBusy(err) {
		return fmt.Errorf("%w: %w", types.ErrStoreBusy, err)
	}
	return err
}
