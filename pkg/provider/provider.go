// Package provider defines the storage abstractions a relay transfer is built on.
//
// A transfer reads from a Source (an object store addressed by key) and writes
// into a BlockStager (a block-blob store that stages blocks and later commits
// an ordered block list). Authentication uses SDK default credential chains or
// explicit shared keys - providers should not implement custom auth logic.
package provider

import (
	"context"
	"io"
	"time"
)

// Source abstracts the read side of a transfer.
//
// Implementations should:
//   - Return a sequential stream from GetObject without buffering the object
//   - Map SDK errors onto the sentinel errors in this package
//   - Be safe for concurrent use
type Source interface {
	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// GetObject opens a sequential stream over the object body.
	// The caller must close the returned reader. contentLength is -1 when unknown.
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)

	// Close releases any resources held by the provider.
	Close() error
}

// BlockStager abstracts the write side of a transfer.
//
// A destination key moves through three states: absent, staging (blocks are
// durably stored but no object is visible) and committed (CommitBlockList
// succeeded). Committed is terminal for one transfer.
type BlockStager interface {
	// EnsureContainer creates the destination container if it does not exist.
	// It is idempotent.
	EnsureContainer(ctx context.Context) error

	// StageBlock durably stores one block for key. The store verifies payload
	// against contentMD5 and rejects the block on mismatch.
	StageBlock(ctx context.Context, key, blockID string, payload []byte, contentMD5 [16]byte) error

	// CommitBlockList materializes key as the concatenation of blockIDs in the
	// given order. An empty list creates a zero-length object.
	CommitBlockList(ctx context.Context, key string, blockIDs []string) error
}

// ObjectSummary contains basic object metadata.
type ObjectSummary struct {
	// Key is the full object key (path) in the bucket.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag, typically an MD5 hash of the object.
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object.
// Returned by Head operations.
type ObjectMeta struct {
	ObjectSummary

	// ContentType is the MIME type of the object.
	ContentType string

	// Metadata contains user-defined metadata key-value pairs.
	Metadata map[string]string
}

// ProviderType identifies a storage provider.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderFile represents a local filesystem directory.
	ProviderFile ProviderType = "file"

	// ProviderAzureBlob represents Azure Blob Storage block blobs.
	ProviderAzureBlob ProviderType = "azblob"

	// ProviderMemory represents the in-memory block store.
	ProviderMemory ProviderType = "memory"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
