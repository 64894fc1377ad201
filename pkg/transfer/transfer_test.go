package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/3leaps/blobrelay/pkg/provider"
	"github.com/3leaps/blobrelay/pkg/provider/memblob"
)

const mib = 1 << 20

// chunkReader returns at most chunk bytes per Read and fails with err once
// failAt bytes have been delivered.
type chunkReader struct {
	data   []byte
	pos    int
	chunk  int
	failAt int
	err    error
	closed bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.err != nil && r.pos >= r.failAt {
		return 0, r.err
	}
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := len(p)
	if r.chunk > 0 && n > r.chunk {
		n = r.chunk
	}
	if r.err != nil && r.pos+n > r.failAt {
		n = r.failAt - r.pos
	}
	n = copy(p[:n], r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *chunkReader) Close() error {
	r.closed = true
	return nil
}

type fakeSource struct {
	data    []byte
	size    int64
	chunk   int
	failAt  int
	readErr error
	openErr error
	reader  *chunkReader
}

func newSource(data []byte) *fakeSource {
	return &fakeSource{data: data, size: int64(len(data))}
}

func (s *fakeSource) Head(_ context.Context, key string) (*provider.ObjectMeta, error) {
	return &provider.ObjectMeta{ObjectSummary: provider.ObjectSummary{Key: key, Size: s.size}}, nil
}

func (s *fakeSource) GetObject(_ context.Context, _ string) (io.ReadCloser, int64, error) {
	if s.openErr != nil {
		return nil, 0, s.openErr
	}
	s.reader = &chunkReader{data: s.data, chunk: s.chunk, failAt: s.failAt, err: s.readErr}
	return s.reader, s.size, nil
}

func (s *fakeSource) Close() error { return nil }

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func request(key string, partSize int64) Request {
	return Request{
		Source:        Locator{Container: "landing", Key: key},
		Destination:   Locator{Container: "out"},
		PartSizeBytes: partSize,
	}
}

func TestEngine_Run_ThreeParts(t *testing.T) {
	data := payload(12 * mib)
	src := newSource(data)
	dst := memblob.New("out")
	engine := New(src, dst, zaptest.NewLogger(t), Options{Flatten: true, OutputFolder: "out/"})

	res, err := engine.Run(context.Background(), request("input/data.csv", 5*mib))
	require.NoError(t, err)

	assert.Equal(t, "out/data.csv", res.DestinationKey)
	assert.Equal(t, 3, res.Parts)
	assert.Equal(t, int64(12*mib), res.Bytes)
	assert.Equal(t, []string{
		"QmxvY2tJZDAwMDAwMDE=",
		"QmxvY2tJZDAwMDAwMDI=",
		"QmxvY2tJZDAwMDAwMDM=",
	}, res.Manifest)

	assert.True(t, dst.ContainerCreated())
	assert.Equal(t, 3, dst.StageCalls())
	assert.Equal(t, 1, dst.CommitCalls())
	assert.Equal(t, res.Manifest, dst.CommittedBlockIDs("out/data.csv"))

	got, ok := dst.Object("out/data.csv")
	require.True(t, ok)
	assert.True(t, bytes.Equal(data, got), "committed object must equal source bytes")
	assert.True(t, src.reader.closed)
}

func TestEngine_Run_UnflattenedKey(t *testing.T) {
	dst := memblob.New("out")
	engine := New(newSource([]byte("abc")), dst, nil, Options{})

	res, err := engine.Run(context.Background(), request("input/data.csv", 5*mib))
	require.NoError(t, err)
	assert.Equal(t, "input/data.csv", res.DestinationKey)
}

func TestEngine_Run_DestinationKeyOverride(t *testing.T) {
	dst := memblob.New("out")
	engine := New(newSource([]byte("abc")), dst, nil, Options{Flatten: true, OutputFolder: "ignored/"})

	req := request("input/data.csv", 5*mib)
	req.Destination.Key = "exact/name.csv"
	res, err := engine.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "exact/name.csv", res.DestinationKey)
	assert.Equal(t, "exact/name.csv", engine.DestinationKey(req))
}

func TestEngine_Run_EmptyObject(t *testing.T) {
	dst := memblob.New("out")
	engine := New(newSource(nil), dst, zaptest.NewLogger(t), Options{})

	res, err := engine.Run(context.Background(), request("empty.bin", 5*mib))
	require.NoError(t, err)

	assert.Equal(t, 0, res.Parts)
	assert.Empty(t, res.Manifest)
	assert.Equal(t, 0, dst.StageCalls())
	assert.Equal(t, 1, dst.CommitCalls())

	got, ok := dst.Object("empty.bin")
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestEngine_Run_PartCounts(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		partSize  int64
		wantParts int
	}{
		{"smaller than part", 3, 5, 1},
		{"exact part", 5, 5, 1},
		{"exact multiple", 10, 5, 2},
		{"remainder", 11, 5, 3},
		{"one byte parts", 4, 1, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := payload(tt.size)
			dst := memblob.New("out")
			res, err := New(newSource(data), dst, nil, Options{}).Run(context.Background(), request("k", tt.partSize))
			require.NoError(t, err)

			assert.Equal(t, tt.wantParts, res.Parts)
			assert.Equal(t, Plan(int64(tt.size), tt.partSize), res.Parts)
			assert.Equal(t, tt.wantParts, dst.StageCalls(), "no empty trailing part")

			got, _ := dst.Object("k")
			assert.Equal(t, data, got)
		})
	}
}

func TestEngine_Run_ShortReadsFillParts(t *testing.T) {
	data := payload(23)
	src := newSource(data)
	src.chunk = 3
	dst := memblob.New("out")

	res, err := New(src, dst, nil, Options{}).Run(context.Background(), request("k", 10))
	require.NoError(t, err)

	// Short reads must not be mistaken for end of stream or part boundaries.
	assert.Equal(t, 3, res.Parts)
	got, _ := dst.Object("k")
	assert.Equal(t, data, got)
}

func TestEngine_Run_UnknownSize(t *testing.T) {
	data := payload(12)
	src := newSource(data)
	src.size = -1
	dst := memblob.New("out")

	res, err := New(src, dst, nil, Options{}).Run(context.Background(), request("k", 5))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Parts)
	assert.Equal(t, int64(12), res.Bytes)
}

func TestEngine_Run_StageFailureLeavesBlocksUncommitted(t *testing.T) {
	boom := errors.New("stage rejected")
	dst := memblob.New("out").FailStageOn(2, boom)
	engine := New(newSource(payload(12)), dst, zaptest.NewLogger(t), Options{})

	_, err := engine.Run(context.Background(), request("k", 5))
	require.Error(t, err)

	assert.True(t, IsDestinationWrite(err))
	assert.ErrorIs(t, err, boom)

	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "StageBlock", te.Op)
	assert.Equal(t, 2, te.Part)

	assert.Equal(t, 0, dst.CommitCalls(), "finalize must not run after a failed stage")
	assert.Equal(t, []string{BlockID(1)}, dst.UncommittedBlockIDs("k"))
	assert.Equal(t, memblob.StateStaging, dst.State("k"))
	_, visible := dst.Object("k")
	assert.False(t, visible)
}

func TestEngine_Run_CommitFailure(t *testing.T) {
	boom := errors.New("commit rejected")
	dst := memblob.New("out").FailCommit(boom)

	_, err := New(newSource(payload(7)), dst, nil, Options{}).Run(context.Background(), request("k", 5))
	require.Error(t, err)
	assert.True(t, IsDestinationWrite(err))

	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "CommitBlockList", te.Op)
	assert.Len(t, dst.UncommittedBlockIDs("k"), 2)
}

func TestEngine_Run_SourceFailures(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		src := newSource(nil)
		src.openErr = &provider.ProviderError{Op: "GetObject", Provider: provider.ProviderS3, Err: provider.ErrNotFound}
		dst := memblob.New("out")

		_, err := New(src, dst, nil, Options{}).Run(context.Background(), request("k", 5))
		require.Error(t, err)
		assert.True(t, IsSourceRead(err))
		assert.True(t, provider.IsNotFound(err))
		assert.Equal(t, 0, dst.CommitCalls())
	})

	t.Run("mid stream", func(t *testing.T) {
		reset := errors.New("connection reset")
		src := newSource(payload(12))
		src.failAt = 7
		src.readErr = reset
		dst := memblob.New("out")

		_, err := New(src, dst, nil, Options{}).Run(context.Background(), request("k", 5))
		require.Error(t, err)
		assert.True(t, IsSourceRead(err))
		assert.ErrorIs(t, err, reset)

		var te *TransferError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, 2, te.Part)
		assert.Equal(t, 0, dst.CommitCalls())
		assert.Equal(t, []string{BlockID(1)}, dst.UncommittedBlockIDs("k"))
	})

	t.Run("truncated stream", func(t *testing.T) {
		src := newSource(payload(8))
		src.size = 10
		dst := memblob.New("out")

		_, err := New(src, dst, nil, Options{}).Run(context.Background(), request("k", 5))
		require.Error(t, err)
		assert.True(t, IsSourceRead(err))
		assert.True(t, isSizeMismatch(err))
		assert.Equal(t, 0, dst.CommitCalls())
	})
}

// cancelingStager cancels the transfer context after the first staged block.
type cancelingStager struct {
	*memblob.Stager
	cancel context.CancelFunc
}

func (s *cancelingStager) StageBlock(ctx context.Context, key, blockID string, payload []byte, sum [16]byte) error {
	err := s.Stager.StageBlock(ctx, key, blockID, payload, sum)
	s.cancel()
	return err
}

func TestEngine_Run_CanceledBetweenParts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := memblob.New("out")
	dst := &cancelingStager{Stager: mem, cancel: cancel}

	_, err := New(newSource(payload(12)), dst, nil, Options{}).Run(ctx, request("k", 5))
	require.Error(t, err)
	assert.True(t, IsCanceled(err))
	assert.ErrorIs(t, err, context.Canceled)

	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.Part)
	assert.Equal(t, 1, mem.StageCalls())
	assert.Equal(t, 0, mem.CommitCalls())
}

func TestEngine_Run_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(newSource(payload(3)), memblob.New("out"), nil, Options{}).Run(ctx, request("k", 5))
	require.Error(t, err)
	assert.True(t, IsCanceled(err))
}

func TestEngine_Run_RateLimited(t *testing.T) {
	dst := memblob.New("out")
	engine := New(newSource(payload(12)), dst, nil, Options{StageRateLimit: 1e9})

	res, err := engine.Run(context.Background(), request("k", 5))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Parts)
}

func TestEngine_Run_InvalidRequest(t *testing.T) {
	engine := New(newSource(nil), memblob.New("out"), nil, Options{})

	_, err := engine.Run(context.Background(), request("", 5))
	assert.Error(t, err)

	_, err = engine.Run(context.Background(), request("k", 0))
	assert.Error(t, err)
}
