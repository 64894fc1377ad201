package transfer

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why a transfer failed.
type Kind string

const (
	// KindSourceRead means the source stream could not be opened or read.
	KindSourceRead Kind = "source_read"

	// KindDestinationWrite means a container create, stage, or commit failed.
	KindDestinationWrite Kind = "destination_write"

	// KindCanceled means the context ended between parts.
	KindCanceled Kind = "canceled"
)

// TransferError is returned by Engine.Run. Blocks staged before the failure are
// left uncommitted.
type TransferError struct {
	Kind Kind

	// Op is the failing step (e.g., "GetObject", "StageBlock").
	Op string

	// Part is the 1-based part sequence number, or 0 when no part was involved.
	Part int

	// Key is the destination key.
	Key string

	Err error
}

// Error implements the error interface.
func (e *TransferError) Error() string {
	if e.Part > 0 {
		return fmt.Sprintf("transfer %s: %s part %d of %s: %v", e.Kind, e.Op, e.Part, e.Key, e.Err)
	}
	return fmt.Sprintf("transfer %s: %s %s: %v", e.Kind, e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsSourceRead returns true if the transfer failed reading the source.
func IsSourceRead(err error) bool {
	return kindOf(err) == KindSourceRead
}

// IsDestinationWrite returns true if the transfer failed writing the destination.
func IsDestinationWrite(err error) bool {
	return kindOf(err) == KindDestinationWrite
}

// IsCanceled returns true if the transfer stopped because its context ended.
func IsCanceled(err error) bool {
	return kindOf(err) == KindCanceled
}

func kindOf(err error) Kind {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// SizeMismatchError indicates the source stream ended at a different length
// than the object size reported when it was opened. The block list is not
// committed in that case.
type SizeMismatchError struct {
	Key      string
	Expected int64
	Got      int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("source size mismatch for %s: expected=%d got=%d", e.Key, e.Expected, e.Got)
}

func isSizeMismatch(err error) bool {
	var sm *SizeMismatchError
	return errors.As(err, &sm)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
