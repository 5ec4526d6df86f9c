package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited marks a transient upstream rate-limit response. The
	// requester retries these with exponential backoff; any other upstream
	// failure is not retried.
	ErrRateLimited = errors.New("upstream rate limited")

	// ErrExhaustedRetries means the rate-limit retry budget ran out. Fatal
	// for the run; the next scheduled run resumes from the last advanced
	// checkpoint.
	ErrExhaustedRetries = errors.New("retry budget exhausted")
)

// UpstreamError is a non-success, non-rate-limit vendor response. Never
// retried: these usually mean a malformed request or revoked credentials,
// not transient load.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// MalformedEntryError reports a single unparseable vendor record. It fails
// only that entry; sibling entries in the same batch are unaffected.
type MalformedEntryError struct {
	Source string
	Reason string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("%s: malformed entry: %s", e.Source, e.Reason)
}

// IsMalformed reports whether err is (or wraps) a malformed-entry error.
func IsMalformed(err error) bool {
	var m *MalformedEntryError
	return errors.As(err, &m)
}

// StorageError wraps a measurement-write or checkpoint persistence failure.
// Always fatal for the run: a checkpoint must never advance past data that
// is not durably stored.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// RunError identifies where a source run failed: the source, the entity
// (empty for source-wide stages), and the pipeline stage.
type RunError struct {
	Source string
	Entity string
	Stage  string
	Err    error
}

func (e *RunError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: entity %s: %s: %v", e.Source, e.Entity, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
