package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/3leaps/blobrelay/internal/config"
	"github.com/3leaps/blobrelay/pkg/provider"
	"github.com/3leaps/blobrelay/pkg/provider/memblob"
	"github.com/3leaps/blobrelay/pkg/transfer"
)

type memSource struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	headErr error
	opened  []string
	closed  bool
}

func (s *memSource) Head(_ context.Context, key string) (*provider.ObjectMeta, error) {
	if s.headErr != nil {
		return nil, s.headErr
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, &provider.ProviderError{Op: "Head", Provider: provider.ProviderS3, Key: key, Err: provider.ErrNotFound}
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{Key: key, Size: int64(len(data))},
		ContentType:   s.types[key],
	}, nil
}

func (s *memSource) GetObject(_ context.Context, key string) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	s.opened = append(s.opened, key)
	s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, 0, &provider.ProviderError{Op: "GetObject", Provider: provider.ProviderS3, Key: key, Err: provider.ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *memSource) Close() error {
	s.closed = true
	return nil
}

func settings() *config.Settings {
	return &config.Settings{
		PartSizeMB:           5,
		FlattenFilePaths:     true,
		OutputFolderPath:     "out/",
		DestinationAccount:   "acct",
		DestinationAccessKey: "a2V5",
		DestinationContainer: "landing",
	}
}

func s3Event(bucket, key string, size int64) events.S3Event {
	return events.S3Event{Records: []events.S3EventRecord{{
		EventName: "ObjectCreated:Put",
		S3: events.S3Entity{
			Bucket: events.S3Bucket{Name: bucket},
			Object: events.S3Object{Key: key, Size: size},
		},
	}}}
}

type fixture struct {
	handler *Handler
	source  *memSource
	stager  *memblob.Stager
	buckets []string
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, s *config.Settings) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	f := &fixture{
		source: &memSource{objects: map[string][]byte{}, types: map[string]string{}},
		stager: memblob.New(s.DestinationContainer),
		logs:   logs,
	}
	h, err := New(s, func(_ context.Context, bucket string) (provider.Source, error) {
		f.buckets = append(f.buckets, bucket)
		return f.source, nil
	}, f.stager, zap.New(core))
	require.NoError(t, err)
	f.handler = h
	return f
}

func TestHandle_RelaysObject(t *testing.T) {
	f := newFixture(t, settings())
	data := bytes.Repeat([]byte("x"), 12<<20)
	f.source.objects["input/data file.csv"] = data
	f.source.types["input/data file.csv"] = "text/csv"

	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-123"})
	contentType, err := f.handler.Handle(ctx, s3Event("landing-bucket", "input/data%20file.csv", int64(len(data))))
	require.NoError(t, err)

	assert.Equal(t, "text/csv", contentType)
	assert.Equal(t, []string{"landing-bucket"}, f.buckets)
	assert.True(t, f.source.closed)

	got, ok := f.stager.Object("out/data file.csv")
	require.True(t, ok)
	assert.Equal(t, len(data), len(got))
	assert.Equal(t, []string{transfer.BlockID(1), transfer.BlockID(2), transfer.BlockID(3)}, f.stager.CommittedBlockIDs("out/data file.csv"))

	completed := f.logs.FilterMessage("Relay completed").All()
	require.Len(t, completed, 1)
	fields := completed[0].ContextMap()
	assert.Equal(t, "req-123", fields["request_id"])
	assert.Equal(t, "landing-bucket", fields["source_bucket"])
	assert.Equal(t, "input/data file.csv", fields["source_key"])
}

func TestHandle_NoRecords(t *testing.T) {
	f := newFixture(t, settings())

	contentType, err := f.handler.Handle(context.Background(), events.S3Event{})
	require.NoError(t, err)
	assert.Empty(t, contentType)
	assert.Empty(t, f.buckets)
	assert.Equal(t, 0, f.stager.CommitCalls())
}

func TestHandle_FirstRecordOnly(t *testing.T) {
	f := newFixture(t, settings())
	f.source.objects["a/first.txt"] = []byte("first")
	f.source.objects["a/second.txt"] = []byte("second")

	event := s3Event("bucket", "a/first.txt", 5)
	event.Records = append(event.Records, s3Event("bucket", "a/second.txt", 6).Records...)

	_, err := f.handler.Handle(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, []string{"a/first.txt"}, f.source.opened)
	_, ok := f.stager.Object("out/second.txt")
	assert.False(t, ok)
}

func TestHandle_SkippedByFilter(t *testing.T) {
	s := settings()
	s.SourceInclude = []string{"incoming/**"}
	f := newFixture(t, s)
	f.source.objects["other/data.csv"] = []byte("x")

	contentType, err := f.handler.Handle(context.Background(), s3Event("bucket", "other/data.csv", 1))
	require.NoError(t, err)
	assert.Empty(t, contentType)
	assert.Empty(t, f.buckets)
	skipped := f.logs.FilterMessage("Object skipped by source filter")
	assert.Equal(t, 1, skipped.FilterField(zap.String("reason", "no include pattern matched")).Len())
	assert.Equal(t, 1, skipped.FilterField(zap.Strings("include", []string{"incoming/**"})).Len())
}

func TestHandle_SkipsHiddenKeys(t *testing.T) {
	tests := []struct {
		name    string
		exclude bool
		relayed bool
	}{
		{"hidden relayed by default", false, true},
		{"hidden skipped when excluded", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := settings()
			s.SourceExcludeHidden = tt.exclude
			f := newFixture(t, s)
			f.source.objects["input/.staging/data.csv"] = []byte("payload")

			_, err := f.handler.Handle(context.Background(), s3Event("bucket", "input/.staging/data.csv", 7))
			require.NoError(t, err)

			_, ok := f.stager.Object("out/.staging/data.csv")
			assert.Equal(t, tt.relayed, ok)
			skipped := f.logs.FilterMessage("Object skipped by source filter")
			if tt.relayed {
				assert.Zero(t, skipped.Len())
				return
			}
			assert.Equal(t, 1, skipped.FilterField(zap.String("reason", "hidden key")).Len())
			assert.Equal(t, 0, f.stager.StageCalls())
		})
	}
}

func TestHandle_EmptyObject(t *testing.T) {
	f := newFixture(t, settings())
	f.source.objects["input/empty.bin"] = nil
	f.source.types["input/empty.bin"] = "application/octet-stream"

	contentType, err := f.handler.Handle(context.Background(), s3Event("bucket", "input/empty.bin", 0))
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", contentType)

	got, ok := f.stager.Object("out/empty.bin")
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestHandle_Failures(t *testing.T) {
	t.Run("stage failure is returned and logged", func(t *testing.T) {
		f := newFixture(t, settings())
		boom := errors.New("stage rejected")
		f.stager.FailStageOn(1, boom)
		f.source.objects["input/data.csv"] = []byte("payload")

		_, err := f.handler.Handle(context.Background(), s3Event("bucket", "input/data.csv", 7))
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.True(t, transfer.IsDestinationWrite(err))
		assert.Equal(t, 1, f.logs.FilterMessage("Relay failed").Len())
	})

	t.Run("missing source object", func(t *testing.T) {
		f := newFixture(t, settings())

		_, err := f.handler.Handle(context.Background(), s3Event("bucket", "input/gone.csv", 7))
		require.Error(t, err)
		assert.True(t, provider.IsNotFound(err))
		assert.Equal(t, 0, f.stager.CommitCalls())
	})

	t.Run("metadata failure", func(t *testing.T) {
		f := newFixture(t, settings())
		f.source.objects["input/data.csv"] = []byte("payload")
		f.source.headErr = provider.ErrAccessDenied

		_, err := f.handler.Handle(context.Background(), s3Event("bucket", "input/data.csv", 7))
		require.Error(t, err)
		assert.True(t, provider.IsAccessDenied(err))
		assert.Empty(t, f.source.opened, "object body must not be read")
		assert.Equal(t, 0, f.stager.StageCalls())
		assert.Equal(t, 0, f.stager.CommitCalls())
		_, committed := f.stager.Object("out/data.csv")
		assert.False(t, committed)
	})

	t.Run("transient metadata failure commits nothing", func(t *testing.T) {
		f := newFixture(t, settings())
		f.source.objects["input/data.csv"] = bytes.Repeat([]byte("x"), 64)
		f.source.headErr = &provider.ProviderError{Op: "Head", Provider: provider.ProviderS3, Key: "input/data.csv", Err: provider.ErrProviderUnavailable}

		_, err := f.handler.Handle(context.Background(), s3Event("bucket", "input/data.csv", 64))
		require.Error(t, err)
		assert.True(t, provider.IsTransient(err))
		assert.Equal(t, 0, f.stager.CommitCalls())
		assert.Equal(t, memblob.StateAbsent, f.stager.State("out/data.csv"))
	})

	t.Run("source factory failure", func(t *testing.T) {
		boom := errors.New("no credentials")
		h, err := New(settings(), func(context.Context, string) (provider.Source, error) {
			return nil, boom
		}, memblob.New("landing"), nil)
		require.NoError(t, err)

		_, err = h.Handle(context.Background(), s3Event("bucket", "input/data.csv", 7))
		assert.ErrorIs(t, err, boom)
	})
}

func TestNew_InvalidFilter(t *testing.T) {
	s := settings()
	s.SourceExclude = []string{"[bad"}
	_, err := New(s, nil, memblob.New("landing"), nil)
	assert.Error(t, err)
}

func TestNewFromSettings(t *testing.T) {
	h, err := NewFromSettings(settings(), nil)
	require.NoError(t, err)
	assert.NotNil(t, h)

	s := settings()
	s.DestinationAccessKey = "%%%"
	_, err = NewFromSettings(s, nil)
	assert.Error(t, err)
}

func TestDecodeKey(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"input/data.csv", "input/data.csv"},
		{"input/data%20file.csv", "input/data file.csv"},
		{"input/a+b.csv", "input/a+b.csv"},
		{"input/caf%C3%A9.txt", "input/café.txt"},
		{"input/100%.csv", "input/100%.csv"},
		{"input/%2Fslash", "input//slash"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeKey(tt.raw))
		})
	}
}

func TestRequestID(t *testing.T) {
	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "abc"})
	assert.Equal(t, "abc", requestID(ctx))

	id := requestID(context.Background())
	assert.Len(t, id, 36)
	assert.NotEqual(t, id, requestID(context.Background()))
}
