package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/blobrelay/pkg/provider"
)

// objectAPI is the part of the S3 client the relay reads through.
type objectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Provider reads relay source objects from one S3 bucket.
type Provider struct {
	client objectAPI
	bucket string
}

var _ provider.Source = (*Provider)(nil)

// New opens a source for cfg.Bucket. Credentials come from the SDK default
// chain unless cfg carries a static key pair.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderS3, Bucket: cfg.Bucket, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Provider{client: client, bucket: cfg.Bucket}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, config.WithCredentialsProvider(static))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// Bucket returns the bucket this source reads from.
func (p *Provider) Bucket() string { return p.bucket }

// Head returns size, content type and user metadata for key.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}

	meta := &provider.ObjectMeta{ContentType: aws.ToString(out.ContentType), Metadata: out.Metadata}
	meta.Key = key
	meta.Size = aws.ToInt64(out.ContentLength)
	meta.ETag = cleanETag(aws.ToString(out.ETag))
	meta.LastModified = aws.ToTime(out.LastModified)
	return meta, nil
}

// GetObject opens the live response body for key. The size is -1 when the
// response carries no Content-Length.
func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return &bodyReader{ReadCloser: out.Body, p: p, key: key}, size, nil
}

// Close is a no-op; the SDK client holds no per-source resources.
func (p *Provider) Close() error { return nil }

// bodyReader classifies failures that happen after the response started.
type bodyReader struct {
	io.ReadCloser
	p   *Provider
	key string
}

func (r *bodyReader) Read(b []byte) (int, error) {
	n, err := r.ReadCloser.Read(b)
	if err != nil && err != io.EOF {
		err = r.p.wrapError("Read", r.key, err)
	}
	return n, err
}

// errorCodes maps S3 API error codes to provider sentinels.
var errorCodes = map[string]error{
	"NoSuchKey":             provider.ErrNotFound,
	"NotFound":              provider.ErrNotFound,
	"NoSuchBucket":          provider.ErrBucketNotFound,
	"AccessDenied":          provider.ErrAccessDenied,
	"Forbidden":             provider.ErrAccessDenied,
	"InvalidAccessKeyId":    provider.ErrInvalidCredentials,
	"SignatureDoesNotMatch": provider.ErrInvalidCredentials,
	"ExpiredToken":          provider.ErrInvalidCredentials,
	"SlowDown":              provider.ErrThrottled,
	"Throttling":            provider.ErrThrottled,
	"RequestLimitExceeded":  provider.ErrThrottled,
	"ServiceUnavailable":    provider.ErrProviderUnavailable,
	"InternalError":         provider.ErrProviderUnavailable,
}

// statusCodes covers HEAD responses, which carry a status but no error body.
var statusCodes = map[int]error{
	http.StatusNotFound:            provider.ErrNotFound,
	http.StatusForbidden:           provider.ErrAccessDenied,
	http.StatusTooManyRequests:     provider.ErrThrottled,
	http.StatusServiceUnavailable:  provider.ErrProviderUnavailable,
	http.StatusInternalServerError: provider.ErrProviderUnavailable,
}

// messageHints is the last resort for errors that lost their type, such as
// those returned by S3-compatible gateways.
var messageHints = []struct {
	needles  []string
	sentinel error
}{
	{[]string{"NoSuchBucket"}, provider.ErrBucketNotFound},
	{[]string{"NoSuchKey", "NotFound", "StatusCode: 404"}, provider.ErrNotFound},
	{[]string{"InvalidAccessKeyId", "SignatureDoesNotMatch"}, provider.ErrInvalidCredentials},
	{[]string{"AccessDenied", "Forbidden", "StatusCode: 403"}, provider.ErrAccessDenied},
	{[]string{"SlowDown", "Throttling", "StatusCode: 429"}, provider.ErrThrottled},
	{[]string{"ServiceUnavailable", "StatusCode: 503"}, provider.ErrProviderUnavailable},
}

// wrapError attaches op, bucket and key to err and swaps the cause for a
// provider sentinel when the failure is recognised.
func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderS3, Bucket: p.bucket, Key: key, Err: err}
	if sentinel := classify(err); sentinel != nil {
		wrapped.Err = sentinel
	}
	return wrapped
}

func classify(err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		return provider.ErrNotFound
	case errors.As(err, &noSuchBucket):
		return provider.ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if sentinel, ok := errorCodes[apiErr.ErrorCode()]; ok {
			return sentinel
		}
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		if sentinel, ok := statusCodes[statusErr.HTTPStatusCode()]; ok {
			return sentinel
		}
	}

	msg := err.Error()
	for _, hint := range messageHints {
		for _, needle := range hint.needles {
			if strings.Contains(msg, needle) {
				return hint.sentinel
			}
		}
	}
	return nil
}

func cleanETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// resolveRegion falls back to us-east-1 for AWS endpoints when neither the
// config nor the SDK chain produced a region. Custom endpoints keep whatever
// the SDK resolved, including nothing.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" || endpoint != "" {
		return sdkRegion
	}
	return DefaultAWSRegion
}
