package fs

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/studio-b12/gowebdav"
)

type webdavClient struct {
	client *gowebdav.Client
}

// NewWebdavDialer returns a Dialer for the "webdav" scheme, backed by
// studio-b12/gowebdav. creds.Host carries the full base URL for this
// scheme, since WebDAV addressing doesn't split cleanly into host/port.
func NewWebdavDialer() Dialer {
	return func(ctx context.Context, creds Credentials) (Client, error) {
		c := gowebdav.NewClient(creds.Host, creds.Username, creds.Password)
		if err := c.Connect(); err != nil {
			return nil, fmt.Errorf("connect webdav %s: %w", creds.Host, err)
		}
		return &webdavClient{client: c}, nil
	}
}

func (c *webdavClient) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return c.client.ReadStream(path)
}

func (c *webdavClient) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	return c.client.Stat(path)
}

func (c *webdavClient) Close() error { return nil }
