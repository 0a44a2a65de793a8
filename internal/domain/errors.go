package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRateLimited    = errors.New("rate limited")
	ErrRejected       = errors.New("rejected by venue")
	ErrNoData         = errors.New("no data")
	ErrAlreadyRunning = errors.New("already running")
	ErrStreamClosed   = errors.New("stream closed")
	ErrStopTimeout    = errors.New("stop timed out")
	ErrLockHeld       = errors.New("lock held by another process")
)
