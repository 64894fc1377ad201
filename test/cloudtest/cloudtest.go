// Package cloudtest provides helpers for S3 source integration tests using moto.
//
// Tests using this package should be tagged with //go:build cloudintegration
// and start with SkipIfUnavailable:
//
//	func TestRelay(t *testing.T) {
//	    cloudtest.SkipIfUnavailable(t)
//	    bucket := cloudtest.CreateBucket(t, ctx)
//	    cloudtest.PutObject(t, ctx, bucket, "input/data.csv", payload)
//	    src := cloudtest.Source(t, ctx, bucket)
//	}
package cloudtest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	s3source "github.com/3leaps/blobrelay/pkg/provider/s3"
)

const (
	// DefaultEndpoint is the default moto server endpoint.
	DefaultEndpoint = "http://localhost:5555"

	// DefaultRegion is the default AWS region for tests.
	DefaultRegion = "us-east-1"

	// TestAccessKeyID is the access key used for moto (accepts any).
	TestAccessKeyID = "testing"

	// TestSecretAccessKey is the secret key used for moto (accepts any).
	TestSecretAccessKey = "testing"
)

var (
	// Endpoint is the moto server endpoint, configurable via MOTO_ENDPOINT.
	Endpoint = envOr("MOTO_ENDPOINT", DefaultEndpoint)

	// Region is the AWS region for tests, configurable via MOTO_REGION.
	Region = envOr("MOTO_REGION", DefaultRegion)

	clientOnce sync.Once
	client     *s3.Client
	clientErr  error
)

var bucketNameInvalid = regexp.MustCompile(`[^a-z0-9-]+`)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Available reports whether the moto server answers.
func Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// SkipIfUnavailable skips the test if the moto server is not reachable.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if !Available() {
		t.Skipf("moto server not available at %s", Endpoint)
	}
}

// SourceConfig returns the relay source settings for bucket on moto.
func SourceConfig(bucket string) s3source.Config {
	return s3source.Config{
		Bucket:          bucket,
		Endpoint:        Endpoint,
		Region:          Region,
		AccessKeyID:     TestAccessKeyID,
		SecretAccessKey: TestSecretAccessKey,
		ForcePathStyle:  true,
	}
}

// Source opens a relay source bound to bucket on moto and closes it on cleanup.
func Source(t *testing.T, ctx context.Context, bucket string) *s3source.Provider {
	t.Helper()
	p, err := s3source.New(ctx, SourceConfig(bucket))
	if err != nil {
		t.Fatalf("failed to open source for %s: %v", bucket, err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// Client returns a shared seeding client configured for moto.
func Client() (*s3.Client, error) {
	clientOnce.Do(func() {
		cfg, err := config.LoadDefaultConfig(context.Background(),
			config.WithRegion(Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(TestAccessKeyID, TestSecretAccessKey, "")),
		)
		if err != nil {
			clientErr = fmt.Errorf("load config: %w", err)
			return
		}
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(Endpoint)
			o.UsePathStyle = true
		})
	})
	return client, clientErr
}

func clientT(t *testing.T) *s3.Client {
	t.Helper()
	c, err := Client()
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	return c
}

// CreateBucket creates a uniquely named bucket and removes it on cleanup.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()

	name := strings.Trim(bucketNameInvalid.ReplaceAllString(strings.ToLower(t.Name()), "-"), "-")
	if len(name) > 50 {
		name = name[:50]
	}
	name = fmt.Sprintf("%s-%d", name, time.Now().UnixNano()%100000)

	c := clientT(t)
	if _, err := c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		t.Fatalf("failed to create bucket %s: %v", name, err)
	}
	t.Cleanup(func() { deleteBucket(t, c, name) })
	return name
}

func deleteBucket(t *testing.T, c *s3.Client, bucket string) {
	ctx := context.Background()
	pages := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			t.Logf("warning: list %s: %v", bucket, err)
			return
		}
		for _, obj := range page.Contents {
			if _, err := c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key}); err != nil {
				t.Logf("warning: delete %s/%s: %v", bucket, aws.ToString(obj.Key), err)
			}
		}
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("warning: delete bucket %s: %v", bucket, err)
	}
}

// PutObject uploads content under key.
func PutObject(t *testing.T, ctx context.Context, bucket, key string, content []byte) {
	t.Helper()
	_, err := clientT(t).PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		t.Fatalf("failed to put object %s/%s: %v", bucket, key, err)
	}
}
