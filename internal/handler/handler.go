// Package handler adapts S3 object-created events to relay transfers.
package handler

import (
	"context"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/blobrelay/internal/config"
	"github.com/3leaps/blobrelay/pkg/match"
	"github.com/3leaps/blobrelay/pkg/provider"
	"github.com/3leaps/blobrelay/pkg/provider/azblob"
	"github.com/3leaps/blobrelay/pkg/provider/s3"
	"github.com/3leaps/blobrelay/pkg/transfer"
)

// SourceFactory opens a source bound to bucket.
type SourceFactory func(ctx context.Context, bucket string) (provider.Source, error)

// Handler relays the object named by an S3 event into the destination
// container. One Handler serves every invocation of a function instance.
type Handler struct {
	settings  *config.Settings
	newSource SourceFactory
	stager    provider.BlockStager
	matcher   *match.Matcher
	logger    *zap.Logger
}

// New creates a handler. A nil logger disables logging.
func New(settings *config.Settings, newSource SourceFactory, stager provider.BlockStager, logger *zap.Logger) (*Handler, error) {
	m, err := match.New(settings.MatchConfig())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		settings:  settings,
		newSource: newSource,
		stager:    stager,
		matcher:   m,
		logger:    logger,
	}, nil
}

// NewFromSettings wires the S3 source and Azure block-blob stager.
func NewFromSettings(settings *config.Settings, logger *zap.Logger) (*Handler, error) {
	stager, err := NewStager(settings)
	if err != nil {
		return nil, err
	}
	return New(settings, S3Sources(settings), stager, logger)
}

// NewStager builds the Azure block-blob stager for the destination settings.
func NewStager(settings *config.Settings) (*azblob.Stager, error) {
	return azblob.New(azblob.Config{
		Account:    settings.DestinationAccount,
		AccessKey:  settings.DestinationAccessKey,
		Container:  settings.DestinationContainer,
		Endpoint:   settings.DestinationEndpoint,
		MaxRetries: settings.DestinationMaxRetries,
	})
}

// S3Sources returns a SourceFactory that opens S3 buckets with the default
// credential chain.
func S3Sources(settings *config.Settings) SourceFactory {
	return func(ctx context.Context, bucket string) (provider.Source, error) {
		return s3.New(ctx, s3.Config{
			Bucket:         bucket,
			Region:         settings.SourceRegion,
			Endpoint:       settings.SourceEndpoint,
			ForcePathStyle: settings.SourceForcePathStyle,
		})
	}
}

// Handle processes the first record of event and returns the source object's
// content type. An event without records, or whose object is rejected by the
// source filter, is a no-op. Failures are logged and returned unchanged.
func (h *Handler) Handle(ctx context.Context, event events.S3Event) (string, error) {
	log := h.logger.With(zap.String("request_id", requestID(ctx)))

	if len(event.Records) == 0 {
		log.Info("Event has no records")
		return "", nil
	}
	if len(event.Records) > 1 {
		log.Warn("Event has multiple records, relaying the first only", zap.Int("records", len(event.Records)))
	}

	record := event.Records[0]
	bucket := record.S3.Bucket.Name
	key := DecodeKey(record.S3.Object.Key)
	log = log.With(
		zap.String("event_name", record.EventName),
		zap.String("source_bucket", bucket),
		zap.String("source_key", key),
	)

	if reason := h.matcher.Reject(key, record.S3.Object.Size); reason != "" {
		log.Info("Object skipped by source filter",
			zap.String("reason", reason),
			zap.Int64("size", record.S3.Object.Size),
			zap.Strings("include", h.matcher.IncludePatterns()),
			zap.Strings("exclude", h.matcher.ExcludePatterns()))
		return "", nil
	}

	contentType, err := h.relay(ctx, log, bucket, key)
	if err != nil {
		log.Error("Relay failed", zap.Error(err), zap.Bool("transient", provider.IsTransient(err)))
		return "", err
	}
	return contentType, nil
}

func (h *Handler) relay(ctx context.Context, log *zap.Logger, bucket, key string) (string, error) {
	src, err := h.newSource(ctx, bucket)
	if err != nil {
		return "", err
	}
	defer func() { _ = src.Close() }()

	engine := transfer.New(src, h.stager, log, transfer.Options{
		Flatten:        h.settings.FlattenFilePaths,
		OutputFolder:   h.settings.OutputFolderPath,
		StageRateLimit: h.settings.StageRateLimitBytes(),
	})
	req := transfer.Request{
		Source:        transfer.Locator{Container: bucket, Key: key},
		Destination:   transfer.Locator{Container: h.settings.DestinationContainer},
		PartSizeBytes: h.settings.PartSizeBytes(),
	}

	// Metadata is read first so a failed lookup leaves nothing staged.
	meta, err := src.Head(ctx, key)
	if err != nil {
		return "", err
	}
	contentType := meta.ContentType

	result, err := engine.Run(ctx, req)
	if err != nil {
		return "", err
	}

	log.Info("Relay completed",
		zap.String("content_type", contentType),
		zap.String("destination_key", result.DestinationKey),
		zap.Int("parts", result.Parts),
		zap.Int64("bytes", result.Bytes))
	return contentType, nil
}

// DecodeKey percent-decodes an event object key. "+" is kept literally and an
// invalid escape leaves the key unchanged.
func DecodeKey(raw string) string {
	key, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return key
}

// requestID returns the Lambda request ID, or a fresh job ID outside Lambda.
func requestID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}
