package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Client is the minimal filesystem surface the pipeline needs: open a
// file for reading and stat it, regardless of the transport behind it.
type Client interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Stat(ctx context.Context, path string) (os.FileInfo, error)
	Close() error
}

// Credentials carries whatever a remote scheme's Dialer needs to connect.
// Local disk ignores it entirely.
type Credentials struct {
	Host, Share, Username, Password, Domain string
	Port                                     int
}

// Dialer opens a Client for one device's credentials.
type Dialer func(ctx context.Context, creds Credentials) (Client, error)

// Factory resolves an Mrl's scheme to the Dialer that can open it,
// mirroring the teacher's DefaultClientFactory protocol switch but as an
// open registry instead of a closed switch, so callers add schemes without
// touching this package.
type Factory struct {
	mu      sync.RWMutex
	dialers map[string]Dialer
}

// NewFactory constructs an empty Factory.
func NewFactory() *Factory {
	return &Factory{dialers: make(map[string]Dialer)}
}

// Register binds scheme to dialer.
func (f *Factory) Register(scheme string, dialer Dialer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialers[scheme] = dialer
}

// Claims reports whether scheme is registered, the predicate the analyzer
// uses to decide between linking a filesystem-resolvable sub-item and
// creating an External media (spec §4.6 step 1).
func (f *Factory) Claims(mrl string) bool {
	parsed, err := ParseMrl(mrl)
	if err != nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.dialers[parsed.Scheme]
	return ok
}

// Dial opens a Client for mrl's scheme using creds.
func (f *Factory) Dial(ctx context.Context, mrl string, creds Credentials) (Client, error) {
	parsed, err := ParseMrl(mrl)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	dialer, ok := f.dialers[parsed.Scheme]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no filesystem registered for scheme %q", parsed.Scheme)
	}
	return dialer(ctx, creds)
}

// localClient serves file:// mrls directly off the local filesystem,
// grounded on the teacher's LocalClient.
type localClient struct {
	basePath string
}

// NewLocalDialer returns a Dialer rooted at basePath for the "file" scheme.
func NewLocalDialer(basePath string) Dialer {
	return func(ctx context.Context, creds Credentials) (Client, error) {
		return &localClient{basePath: basePath}, nil
	}
}

func (c *localClient) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(c.basePath, path))
}

func (c *localClient) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	return os.Stat(filepath.Join(c.basePath, path))
}

func (c *localClient) Close() error { return nil }
