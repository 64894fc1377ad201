package azblob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/3leaps/blobrelay/pkg/provider"
)

// md5Mismatch is returned by the service when the transactional MD5 does not
// match the received block.
const md5Mismatch bloberror.Code = "Md5Mismatch"

type containerAPI interface {
	Create(ctx context.Context, options *container.CreateOptions) (container.CreateResponse, error)
}

type blockBlobAPI interface {
	StageBlock(ctx context.Context, base64BlockID string, body io.ReadSeekCloser, options *blockblob.StageBlockOptions) (blockblob.StageBlockResponse, error)
	CommitBlockList(ctx context.Context, base64BlockIDs []string, options *blockblob.CommitBlockListOptions) (blockblob.CommitBlockListResponse, error)
}

// Stager implements provider.BlockStager for one Azure container.
type Stager struct {
	container    string
	containerAPI containerAPI
	blockBlobFor func(key string) blockBlobAPI
}

var _ provider.BlockStager = (*Stager)(nil)

// New creates a stager authenticated with the account shared key.
func New(cfg Config) (*Stager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cred, err := blob.NewSharedKeyCredential(cfg.Account, cfg.AccessKey)
	if err != nil {
		return nil, &provider.ProviderError{
			Op:       "New",
			Provider: provider.ProviderAzureBlob,
			Bucket:   cfg.Container,
			Err:      errors.Join(provider.ErrInvalidCredentials, err),
		}
	}

	opts := &container.ClientOptions{}
	if cfg.MaxRetries != 0 {
		opts.ClientOptions.Retry = policy.RetryOptions{MaxRetries: cfg.MaxRetries}
	}

	client, err := container.NewClientWithSharedKeyCredential(cfg.ContainerURL(), cred, opts)
	if err != nil {
		return nil, &provider.ProviderError{
			Op:       "New",
			Provider: provider.ProviderAzureBlob,
			Bucket:   cfg.Container,
			Err:      err,
		}
	}

	return &Stager{
		container:    cfg.Container,
		containerAPI: client,
		blockBlobFor: func(key string) blockBlobAPI { return client.NewBlockBlobClient(key) },
	}, nil
}

// Container returns the destination container name.
func (s *Stager) Container() string {
	return s.container
}

// EnsureContainer creates the container, treating "already exists" as success.
func (s *Stager) EnsureContainer(ctx context.Context) error {
	_, err := s.containerAPI.Create(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return s.wrapError("EnsureContainer", "", err)
	}
	return nil
}

// StageBlock uploads one block with a transactional MD5 so the service
// rejects corrupted payloads.
func (s *Stager) StageBlock(ctx context.Context, key, blockID string, payload []byte, contentMD5 [16]byte) error {
	body := streaming.NopCloser(bytes.NewReader(payload))
	_, err := s.blockBlobFor(key).StageBlock(ctx, blockID, body, &blockblob.StageBlockOptions{
		TransactionalValidation: blob.TransferValidationTypeMD5(contentMD5[:]),
	})
	if err != nil {
		return s.wrapError("StageBlock", key, err)
	}
	return nil
}

// CommitBlockList commits blockIDs, in order, as the content of key.
func (s *Stager) CommitBlockList(ctx context.Context, key string, blockIDs []string) error {
	if blockIDs == nil {
		// The service expects an explicit (possibly empty) <BlockList>.
		blockIDs = []string{}
	}
	_, err := s.blockBlobFor(key).CommitBlockList(ctx, blockIDs, nil)
	if err != nil {
		return s.wrapError("CommitBlockList", key, err)
	}
	return nil
}

// wrapError converts Azure errors to provider errors with appropriate sentinel errors.
func (s *Stager) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderAzureBlob,
		Bucket:   s.container,
		Key:      key,
		Err:      err,
	}

	switch {
	case bloberror.HasCode(err, md5Mismatch):
		wrapped.Err = errors.Join(provider.ErrIntegrityMismatch, err)
		return wrapped
	case bloberror.HasCode(err, bloberror.InvalidBlockList):
		wrapped.Err = errors.Join(provider.ErrBlockNotStaged, err)
		return wrapped
	case bloberror.HasCode(err, bloberror.ContainerNotFound, bloberror.ContainerBeingDeleted):
		wrapped.Err = errors.Join(provider.ErrBucketNotFound, err)
		return wrapped
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.InvalidAuthenticationInfo, bloberror.NoAuthenticationInformation):
		wrapped.Err = errors.Join(provider.ErrInvalidCredentials, err)
		return wrapped
	case bloberror.HasCode(err, bloberror.AuthorizationPermissionMismatch, bloberror.AccountIsDisabled):
		wrapped.Err = errors.Join(provider.ErrAccessDenied, err)
		return wrapped
	case bloberror.HasCode(err, bloberror.ServerBusy):
		wrapped.Err = errors.Join(provider.ErrThrottled, err)
		return wrapped
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			wrapped.Err = errors.Join(provider.ErrNotFound, err)
		case http.StatusForbidden:
			wrapped.Err = errors.Join(provider.ErrAccessDenied, err)
		case http.StatusTooManyRequests:
			wrapped.Err = errors.Join(provider.ErrThrottled, err)
		case http.StatusInternalServerError, http.StatusServiceUnavailable:
			wrapped.Err = errors.Join(provider.ErrProviderUnavailable, err)
		}
	}

	return wrapped
}
