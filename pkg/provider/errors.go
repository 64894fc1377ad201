package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderUnavailable indicates the provider service is unavailable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrThrottled indicates the request was rate limited by the provider.
	ErrThrottled = errors.New("request throttled")

	// ErrIntegrityMismatch indicates the store rejected a block whose content
	// did not match the supplied MD5.
	ErrIntegrityMismatch = errors.New("content md5 mismatch")

	// ErrBlockNotStaged indicates a block list referenced a block that was never staged.
	ErrBlockNotStaged = errors.New("block not staged")

	// ErrAlreadyCommitted indicates a block list was committed twice for one transfer.
	ErrAlreadyCommitted = errors.New("block list already committed")
)

// ProviderError records which store operation failed and on what. Err is one
// of the sentinels above when the SDK error could be classified.
type ProviderError struct {
	Op       string
	Provider ProviderType
	Bucket   string // bucket or container
	Key      string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Provider, e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsNotFound reports a missing object.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAccessDenied reports insufficient permissions.
func IsAccessDenied(err error) bool { return errors.Is(err, ErrAccessDenied) }

// IsBucketNotFound reports a missing bucket or container.
func IsBucketNotFound(err error) bool { return errors.Is(err, ErrBucketNotFound) }

// IsInvalidCredentials reports an authentication failure.
func IsInvalidCredentials(err error) bool { return errors.Is(err, ErrInvalidCredentials) }

// IsProviderUnavailable reports a service-side outage.
func IsProviderUnavailable(err error) bool { return errors.Is(err, ErrProviderUnavailable) }

// IsThrottled reports a rate-limited request.
func IsThrottled(err error) bool { return errors.Is(err, ErrThrottled) }

// IsIntegrityMismatch reports a block rejected for its checksum.
func IsIntegrityMismatch(err error) bool { return errors.Is(err, ErrIntegrityMismatch) }

// IsBlockNotStaged reports a commit that referenced an unknown block.
func IsBlockNotStaged(err error) bool { return errors.Is(err, ErrBlockNotStaged) }

// IsAlreadyCommitted reports a second commit, or a stage after commit, for one key.
func IsAlreadyCommitted(err error) bool { return errors.Is(err, ErrAlreadyCommitted) }

// IsTransient reports faults a later attempt may not hit: throttling and
// service outages.
func IsTransient(err error) bool { return IsThrottled(err) || IsProviderUnavailable(err) }
