// Package transfer streams one object from a provider.Source into a block blob.
//
// The engine reads the source in fixed-size parts, stages each part as a block
// with its MD5, and commits the ordered block list once the stream is
// exhausted. Parts are processed one at a time through a single buffer, so
// memory use is bounded by the part size rather than the object size.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/blobrelay/pkg/provider"
)

// Locator names an object in a bucket or container.
type Locator struct {
	Container string
	Key       string
}

// Request describes one transfer.
type Request struct {
	Source Locator

	// Destination.Key overrides the mapped key when set. Destination.Container
	// is informational; the stager is bound to its container.
	Destination Locator

	PartSizeBytes int64
}

// Options controls destination naming and throughput.
type Options struct {
	// Flatten drops the first path segment of the source key.
	Flatten bool

	// OutputFolder is a normalized key prefix (see NormalizeOutputFolder).
	OutputFolder string

	// StageRateLimit caps staged bytes per second. Zero means unlimited.
	StageRateLimit float64
}

// Result summarizes a committed transfer.
type Result struct {
	DestinationKey string
	Parts          int
	Bytes          int64
	Manifest       []string
	Duration       time.Duration
}

// Engine runs transfers between one source and one stager. An Engine holds no
// per-transfer state, so concurrent Run calls are independent.
type Engine struct {
	src    provider.Source
	dst    provider.BlockStager
	logger *zap.Logger
	opts   Options
}

// New creates an engine. A nil logger disables logging.
func New(src provider.Source, dst provider.BlockStager, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{src: src, dst: dst, logger: logger, opts: opts}
}

// DestinationKey returns the key req will be committed under.
func (e *Engine) DestinationKey(req Request) string {
	if req.Destination.Key != "" {
		return req.Destination.Key
	}
	return MapKey(req.Source.Key, e.opts.Flatten, e.opts.OutputFolder)
}

// Run transfers req.Source into the destination and commits it.
//
// Parts are read, hashed, and staged strictly in order. Finalization happens
// once, after the source reports end of stream; an empty source commits an
// empty block list. Any failure aborts the transfer with a *TransferError and
// leaves already-staged blocks uncommitted.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Source.Key == "" {
		return nil, errors.New("transfer: source key is required")
	}
	if req.PartSizeBytes <= 0 {
		return nil, fmt.Errorf("transfer: part size must be positive, got %d", req.PartSizeBytes)
	}

	start := time.Now()
	dstKey := e.DestinationKey(req)
	log := e.logger.With(
		zap.String("source_bucket", req.Source.Container),
		zap.String("source_key", req.Source.Key),
		zap.String("container", req.Destination.Container),
		zap.String("key", dstKey),
	)

	if err := e.dst.EnsureContainer(ctx); err != nil {
		return nil, destinationErr("EnsureContainer", 0, dstKey, err)
	}

	body, size, err := e.src.GetObject(ctx, req.Source.Key)
	if err != nil {
		return nil, sourceErr("GetObject", 0, dstKey, err)
	}
	defer func() { _ = body.Close() }()

	log.Info("Upload initiated",
		zap.Int64("size", size),
		zap.Int64("part_size", req.PartSizeBytes),
		zap.Int("planned_parts", Plan(size, req.PartSizeBytes)))

	var limiter *rate.Limiter
	if e.opts.StageRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.opts.StageRateLimit), int(req.PartSizeBytes))
	}

	// The one part buffer for this transfer; each iteration overwrites it.
	buf := make([]byte, partBufferSize(size, req.PartSizeBytes))
	manifest := make([]string, 0, Plan(size, req.PartSizeBytes))
	var total int64

	for seq := 1; ; seq++ {
		if err := ctx.Err(); err != nil {
			return nil, &TransferError{Kind: KindCanceled, Op: "Read", Part: seq, Key: dstKey, Err: err}
		}

		n, err := readPart(body, buf)
		if err != nil {
			return nil, sourceErr("Read", seq, dstKey, err)
		}
		if n == 0 {
			break
		}
		payload := buf[:n]
		log.Debug("Part read", zap.Int("part", seq), zap.Int("bytes", n))

		blockID := BlockID(seq)
		sum := Fingerprint(payload)

		if limiter != nil {
			if err := limiter.WaitN(ctx, n); err != nil {
				return nil, &TransferError{Kind: KindCanceled, Op: "StageBlock", Part: seq, Key: dstKey, Err: err}
			}
		}
		if err := e.dst.StageBlock(ctx, dstKey, blockID, payload, sum); err != nil {
			return nil, destinationErr("StageBlock", seq, dstKey, err)
		}

		manifest = append(manifest, blockID)
		total += int64(n)
		log.Debug("Part staged",
			zap.Int("part", seq),
			zap.String("block_id", blockID),
			zap.String("content_md5", EncodeFingerprint(sum)))
	}

	if size >= 0 && total != size {
		return nil, sourceErr("Read", 0, dstKey, &SizeMismatchError{Key: req.Source.Key, Expected: size, Got: total})
	}

	log.Debug("Committing block list", zap.Int("blocks", len(manifest)))
	if err := e.dst.CommitBlockList(ctx, dstKey, manifest); err != nil {
		return nil, destinationErr("CommitBlockList", 0, dstKey, err)
	}

	res := &Result{
		DestinationKey: dstKey,
		Parts:          len(manifest),
		Bytes:          total,
		Manifest:       manifest,
		Duration:       time.Since(start),
	}
	log.Info("Upload completed",
		zap.Int("parts", res.Parts),
		zap.Int64("bytes", res.Bytes),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// partBufferSize sizes the part buffer. Objects smaller than one part get a
// buffer one byte larger than their reported size so a stream that runs past
// that size is still noticed.
func partBufferSize(size, partSize int64) int64 {
	if size >= 0 && size < partSize {
		return size + 1
	}
	return partSize
}

func sourceErr(op string, part int, key string, err error) error {
	if isContextErr(err) {
		return &TransferError{Kind: KindCanceled, Op: op, Part: part, Key: key, Err: err}
	}
	return &TransferError{Kind: KindSourceRead, Op: op, Part: part, Key: key, Err: err}
}

func destinationErr(op string, part int, key string, err error) error {
	if isContextErr(err) {
		return &TransferError{Kind: KindCanceled, Op: op, Part: part, Key: key, Err: err}
	}
	return &TransferError{Kind: KindDestinationWrite, Op: op, Part: part, Key: key, Err: err}
}
