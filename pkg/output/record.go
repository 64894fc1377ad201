// Package output provides JSONL output for relay results.
//
// Output is structured as typed record envelopes containing plans, transfer
// results, skips, and errors. Each line is a self-contained JSON object that
// can be parsed independently.
package output

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/blobrelay/pkg/provider"
	"github.com/3leaps/blobrelay/pkg/transfer"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: blobrelay.<type>.v<version>
const (
	// TypePlan identifies a transfer plan, emitted before any bytes move.
	TypePlan = "blobrelay.plan.v1"

	// TypeTransfer identifies a committed transfer.
	TypeTransfer = "blobrelay.transfer.v1"

	// TypeSkip identifies an object rejected by the source filter.
	TypeSkip = "blobrelay.skip.v1"

	// TypeError identifies error records.
	TypeError = "blobrelay.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "blobrelay.transfer.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this run.
	JobID string `json:"job_id"`

	// Provider identifies the source provider (e.g., "s3", "file").
	Provider string `json:"provider"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// PlanRecord describes how an object will be split into blocks.
type PlanRecord struct {
	SourceKey      string `json:"source_key"`
	Container      string `json:"container"`
	DestinationKey string `json:"destination_key"`
	Size           int64  `json:"size"`
	PartSize       int64  `json:"part_size"`
	Parts          int    `json:"parts"`
	ContentType    string `json:"content_type,omitempty"`
}

// TransferRecord is the data payload for a committed transfer.
type TransferRecord struct {
	SourceKey      string   `json:"source_key"`
	Container      string   `json:"container"`
	DestinationKey string   `json:"destination_key"`
	Parts          int      `json:"parts"`
	Bytes          int64    `json:"bytes"`
	BlockIDs       []string `json:"block_ids,omitempty"`
	ContentType    string   `json:"content_type,omitempty"`

	// DryRun is set when blocks were staged in memory only.
	DryRun bool `json:"dry_run,omitempty"`

	// Duration is the total transfer duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// SkipRecord is the data payload for an object that was not relayed.
type SkipRecord struct {
	SourceKey string `json:"source_key"`
	Reason    string `json:"reason"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Key is the object key related to this error, if applicable.
	Key string `json:"key,omitempty"`

	// Part is the part sequence number being processed, if applicable.
	Part int `json:"part,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the object or container was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeTimeout indicates an operation timed out or was canceled.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeProviderUnavailable indicates the service is unavailable.
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"

	// ErrCodeIntegrity indicates the store rejected a block checksum.
	ErrCodeIntegrity = "INTEGRITY"

	// ErrCodeSourceChanged indicates the source length differed from its
	// reported size.
	ErrCodeSourceChanged = "SOURCE_CHANGED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ClassifyError maps a relay error to an ErrorRecord code.
func ClassifyError(err error) string {
	var sizeErr *transfer.SizeMismatchError
	switch {
	case provider.IsNotFound(err), provider.IsBucketNotFound(err):
		return ErrCodeNotFound
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err):
		return ErrCodeAccessDenied
	case provider.IsThrottled(err):
		return ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		return ErrCodeProviderUnavailable
	case provider.IsIntegrityMismatch(err):
		return ErrCodeIntegrity
	case errors.As(err, &sizeErr):
		return ErrCodeSourceChanged
	case transfer.IsCanceled(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeInternal
	}
}

// NewErrorRecord builds an ErrorRecord for err, filling the part number from
// transfer errors.
func NewErrorRecord(key string, err error) *ErrorRecord {
	rec := &ErrorRecord{Code: ClassifyError(err), Message: err.Error(), Key: key}
	var te *transfer.TransferError
	if errors.As(err, &te) {
		rec.Part = te.Part
		rec.Details = map[string]string{"kind": string(te.Kind), "op": te.Op}
	}
	return rec
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
