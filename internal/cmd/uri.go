package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/blobrelay/pkg/provider"
)

var (
	ErrInvalidURI          = errors.New("invalid URI")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrMissingBucket       = errors.New("missing bucket name")
)

// SourceURI names the object the copy command relays: s3://bucket/key or
// file://path. For file URIs Key holds the local path and Bucket is empty.
type SourceURI struct {
	Provider string
	Bucket   string
	Key      string
}

func (u *SourceURI) String() string {
	if u.Provider == string(provider.ProviderFile) {
		return "file://" + u.Key
	}
	return u.Provider + "://" + u.Bucket + "/" + u.Key
}

// IsPrefix reports whether the URI names a prefix rather than one object.
func (u *SourceURI) IsPrefix() bool {
	return u.Key == "" || strings.HasSuffix(u.Key, "/")
}

// ParseURI splits a source URI. The key is taken verbatim: '?', '#' and glob
// characters are part of it, so net/url is not used.
func ParseURI(uri string) (*SourceURI, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	switch {
	case uri == "":
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	case !ok:
		return nil, fmt.Errorf("%w: missing scheme in %q (want s3:// or file://)", ErrInvalidURI, uri)
	}

	switch scheme = strings.ToLower(scheme); provider.ProviderType(scheme) {
	case provider.ProviderFile:
		if rest == "" {
			return nil, fmt.Errorf("%w: empty path in %s", ErrInvalidURI, uri)
		}
		return &SourceURI{Provider: scheme, Key: rest}, nil
	case provider.ProviderS3:
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
		}
		return &SourceURI{Provider: scheme, Bucket: bucket, Key: key}, nil
	default:
		return nil, fmt.Errorf("%w: %s (want s3 or file)", ErrUnsupportedProvider, scheme)
	}
}
