// Package file implements provider.Source over a local directory.
//
// Keys are slash-separated paths relative to the directory. The copy command
// uses it to relay objects that live on local disk.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"strings"

	"github.com/3leaps/blobrelay/pkg/provider"
)

// ErrInvalidKey is returned for keys that name the directory itself.
var ErrInvalidKey = errors.New("invalid key path")

// Config configures a directory source.
type Config struct {
	// BaseDir is the directory keys resolve against (required).
	BaseDir string
}

// Validate checks that BaseDir is set.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("file config: base dir is required")
	}
	return nil
}

// Provider reads relay source objects through an os.Root, so no key can
// reach outside BaseDir.
type Provider struct {
	root *os.Root
}

var _ provider.Source = (*Provider)(nil)

// New opens cfg.BaseDir. The directory must exist.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(cfg.BaseDir)
	if err != nil {
		return nil, wrapError("New", cfg.BaseDir, "", err)
	}
	return &Provider{root: root}, nil
}

// BaseDir returns the directory keys resolve against.
func (p *Provider) BaseDir() string { return p.root.Name() }

// Close releases the directory handle.
func (p *Provider) Close() error { return p.root.Close() }

// Head stats key. ContentType is guessed from the extension.
func (p *Provider) Head(_ context.Context, key string) (*provider.ObjectMeta, error) {
	name, err := cleanKey(key)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	st, err := p.root.Stat(name)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	if st.IsDir() {
		return nil, p.wrapError("Head", key, fs.ErrNotExist)
	}

	meta := &provider.ObjectMeta{ContentType: mime.TypeByExtension(path.Ext(name))}
	meta.Key = name
	meta.Size = st.Size()
	meta.LastModified = st.ModTime()
	return meta, nil
}

// GetObject opens key for reading and reports its current size.
func (p *Provider) GetObject(_ context.Context, key string) (io.ReadCloser, int64, error) {
	name, err := cleanKey(key)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	f, err := p.root.Open(name)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	return f, st.Size(), nil
}

// cleanKey turns an object key into a root-relative name. Leading slashes
// and dot segments are resolved lexically; whatever still climbs above the
// root is rejected by os.Root itself.
func cleanKey(key string) (string, error) {
	name := path.Clean("/" + strings.TrimSpace(key))[1:]
	if name == "" {
		return "", ErrInvalidKey
	}
	return name, nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	return wrapError(op, p.BaseDir(), key, err)
}

func wrapError(op, dir, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: dir, Key: key, Err: err}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		wrapped.Err = provider.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}
