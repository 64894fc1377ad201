package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits relay records, one JSON document per line. Implementations
// are safe for concurrent use.
type Writer interface {
	WritePlan(ctx context.Context, plan *PlanRecord) error
	WriteTransfer(ctx context.Context, transfer *TransferRecord) error
	WriteSkip(ctx context.Context, skip *SkipRecord) error
	WriteError(ctx context.Context, rec *ErrorRecord) error
	Close() error
}

// JSONLWriter stamps every record with a job ID and source provider and
// writes it to an io.Writer as a single line.
type JSONLWriter struct {
	mu     sync.Mutex
	out    io.Writer
	job    string
	source string
	now    func() time.Time
	closed bool
}

var _ Writer = (*JSONLWriter)(nil)

// NewJSONLWriter returns a writer tagging records with jobID and provider
// (for example "s3" or "file").
func NewJSONLWriter(w io.Writer, jobID, provider string) *JSONLWriter {
	return &JSONLWriter{
		out:    w,
		job:    jobID,
		source: provider,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (jw *JSONLWriter) WritePlan(ctx context.Context, plan *PlanRecord) error {
	return jw.emit(ctx, TypePlan, plan)
}

func (jw *JSONLWriter) WriteTransfer(ctx context.Context, transfer *TransferRecord) error {
	return jw.emit(ctx, TypeTransfer, transfer)
}

func (jw *JSONLWriter) WriteSkip(ctx context.Context, skip *SkipRecord) error {
	return jw.emit(ctx, TypeSkip, skip)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.emit(ctx, TypeError, rec)
}

// Close stops further writes. The underlying io.Writer stays open.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	jw.closed = true
	jw.mu.Unlock()
	return nil
}

func (jw *JSONLWriter) emit(ctx context.Context, recordType string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	// Held across the write so lines from concurrent callers never interleave.
	jw.mu.Lock()
	defer jw.mu.Unlock()
	switch {
	case jw.closed:
		return ErrWriterClosed
	case ctx.Err() != nil:
		return ctx.Err()
	}

	line, err := json.Marshal(Record{Type: recordType, TS: jw.now(), JobID: jw.job, Provider: jw.source, Data: data})
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	if err := writeFull(jw.out, append(line, '\n')); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeFull loops until p is written. A writer that accepts nothing without
// reporting an error yields io.ErrShortWrite.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		switch {
		case err != nil:
			return err
		case n == 0:
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
