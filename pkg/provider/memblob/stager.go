// Package memblob is an in-memory provider.BlockStager.
//
// It models block-blob semantics closely enough to check a transfer end to
// end: staged blocks stay invisible until a block list is committed, commits
// must reference staged blocks, and a key can be committed only once. The copy
// command uses it for --dry-run; tests use it with fault injection.
package memblob

import (
	"context"
	"crypto/md5"
	"fmt"
	"sort"
	"sync"

	"github.com/3leaps/blobrelay/pkg/provider"
)

// State is the lifecycle of one destination key.
type State int

const (
	StateAbsent State = iota
	StateStaging
	StateCommitted
)

func (s State) String() string {
	switch s {
	case StateStaging:
		return "staging"
	case StateCommitted:
		return "committed"
	default:
		return "absent"
	}
}

type blob struct {
	state       State
	uncommitted map[string][]byte
	blockIDs    []string
	data        []byte
}

// Stager stores blocks and committed objects in memory. Safe for concurrent use.
type Stager struct {
	mu        sync.Mutex
	container string
	created   bool
	blobs     map[string]*blob

	stageCalls  int
	commitCalls int

	failStageOn int
	failStage   error
	failCommit  error
}

var _ provider.BlockStager = (*Stager)(nil)

// New returns an empty stager for container.
func New(container string) *Stager {
	return &Stager{container: container, blobs: make(map[string]*blob)}
}

// FailStageOn makes the n-th StageBlock call (1-based, counted across keys)
// return err without storing the block.
func (s *Stager) FailStageOn(n int, err error) *Stager {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStageOn = n
	s.failStage = err
	return s
}

// FailCommit makes every CommitBlockList call return err.
func (s *Stager) FailCommit(err error) *Stager {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
	return s
}

func (s *Stager) EnsureContainer(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = true
	return nil
}

func (s *Stager) StageBlock(ctx context.Context, key, blockID string, payload []byte, contentMD5 [16]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stageCalls++
	if s.failStageOn > 0 && s.stageCalls == s.failStageOn {
		return s.wrapError("StageBlock", key, s.failStage)
	}
	if !s.created {
		return s.wrapError("StageBlock", key, provider.ErrBucketNotFound)
	}
	if md5.Sum(payload) != contentMD5 {
		return s.wrapError("StageBlock", key, provider.ErrIntegrityMismatch)
	}

	b := s.blobs[key]
	if b == nil {
		b = &blob{uncommitted: make(map[string][]byte)}
		s.blobs[key] = b
	}
	if b.state == StateCommitted {
		return s.wrapError("StageBlock", key, provider.ErrAlreadyCommitted)
	}
	b.state = StateStaging
	// The caller reuses its part buffer, so keep a private copy.
	b.uncommitted[blockID] = append([]byte(nil), payload...)
	return nil
}

func (s *Stager) CommitBlockList(ctx context.Context, key string, blockIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commitCalls++
	if s.failCommit != nil {
		return s.wrapError("CommitBlockList", key, s.failCommit)
	}
	if !s.created {
		return s.wrapError("CommitBlockList", key, provider.ErrBucketNotFound)
	}

	b := s.blobs[key]
	if b == nil {
		b = &blob{uncommitted: make(map[string][]byte)}
		s.blobs[key] = b
	}
	if b.state == StateCommitted {
		return s.wrapError("CommitBlockList", key, provider.ErrAlreadyCommitted)
	}

	var size int
	for _, id := range blockIDs {
		block, ok := b.uncommitted[id]
		if !ok {
			return s.wrapError("CommitBlockList", key, fmt.Errorf("%w: %s", provider.ErrBlockNotStaged, id))
		}
		size += len(block)
	}

	data := make([]byte, 0, size)
	for _, id := range blockIDs {
		data = append(data, b.uncommitted[id]...)
	}

	b.data = data
	b.blockIDs = append([]string(nil), blockIDs...)
	b.uncommitted = make(map[string][]byte)
	b.state = StateCommitted
	return nil
}

// ContainerCreated reports whether EnsureContainer has run.
func (s *Stager) ContainerCreated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// State returns the lifecycle state of key.
func (s *Stager) State(key string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.blobs[key]; b != nil {
		return b.state
	}
	return StateAbsent
}

// Object returns the committed content of key.
func (s *Stager) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.blobs[key]
	if b == nil || b.state != StateCommitted {
		return nil, false
	}
	return append([]byte(nil), b.data...), true
}

// CommittedBlockIDs returns the block list key was committed with.
func (s *Stager) CommittedBlockIDs(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.blobs[key]; b != nil {
		return append([]string(nil), b.blockIDs...)
	}
	return nil
}

// UncommittedBlockIDs returns staged-but-uncommitted block IDs for key, sorted.
func (s *Stager) UncommittedBlockIDs(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.blobs[key]
	if b == nil {
		return nil
	}
	ids := make([]string, 0, len(b.uncommitted))
	for id := range b.uncommitted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StageCalls returns the number of StageBlock calls, including failed ones.
func (s *Stager) StageCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stageCalls
}

// CommitCalls returns the number of CommitBlockList calls, including failed ones.
func (s *Stager) CommitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitCalls
}

func (s *Stager) wrapError(op, key string, err error) error {
	return &provider.ProviderError{Op: op, Provider: provider.ProviderMemory, Bucket: s.container, Key: key, Err: err}
}
