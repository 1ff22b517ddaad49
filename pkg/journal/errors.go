package journal

import "errors"

var (
	ErrFetchFailed      = errors.New("journal: failed to fetch day")
	ErrStoreFailed      = errors.New("journal: store operation failed")
	ErrInvalidConfig    = errors.New("journal: invalid configuration")
	ErrNoIdentity       = errors.New("journal: identity is required")
	ErrProgressCorrupt  = errors.New("journal: stored progress is unreadable")
	ErrFailedToLoadAWS  = errors.New("journal: failed to load AWS configuration")
	ErrAccessDenied     = errors.New("journal: access denied by object store")
	ErrBucketNotFound   = errors.New("journal: bucket not found")
	ErrOperationTimeout = errors.New("journal: object store operation timed out")
)
