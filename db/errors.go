package db

import (
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/signetai/signet/errors"
)

const (
	retryInitialBackoff = 50 * time.Millisecond
	retryMaxBackoff     = 5 * time.Second
)

// IsBusy reports whether err is a transient SQLITE_BUSY/SQLITE_LOCKED error.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// WithRetry runs fn, retrying on SQLITE_BUSY with exponential backoff.
// Gives up once the cumulative backoff would exceed 5s.
func WithRetry(fn func() error) error {
	backoff := retryInitialBackoff
	var elapsed time.Duration
	for {
		err := fn()
		if err == nil || !IsBusy(err) {
			return err
		}
		if elapsed+backoff > retryMaxBackoff {
			return errors.Wrap(err, "database busy after retries")
		}
		time.Sleep(backoff)
		elapsed += backoff
		backoff *= 2
	}
}
