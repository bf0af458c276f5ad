package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
)

type ftpClient struct {
	conn *ftp.ServerConn
}

// NewFtpDialer returns a Dialer for the "ftp" scheme, backed by jlaffaye/ftp.
func NewFtpDialer() Dialer {
	return func(ctx context.Context, creds Credentials) (Client, error) {
		port := creds.Port
		if port == 0 {
			port = 21
		}
		addr := fmt.Sprintf("%s:%d", creds.Host, port)
		conn, err := ftp.Dial(addr, ftp.DialWithTimeout(5*time.Second), ftp.DialWithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("dial ftp host %s: %w", creds.Host, err)
		}
		if err := conn.Login(creds.Username, creds.Password); err != nil {
			conn.Quit()
			return nil, fmt.Errorf("ftp login to %s: %w", creds.Host, err)
		}
		return &ftpClient{conn: conn}, nil
	}
}

func (c *ftpClient) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return c.conn.Retr(path)
}

func (c *ftpClient) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	entry, err := c.conn.GetEntry(path)
	if err != nil {
		return nil, fmt.Errorf("stat ftp path %s: %w", path, err)
	}
	return ftpFileInfo{entry}, nil
}

func (c *ftpClient) Close() error {
	return c.conn.Quit()
}

// ftpFileInfo adapts ftp.Entry to os.FileInfo.
type ftpFileInfo struct {
	entry *ftp.Entry
}

func (i ftpFileInfo) Name() string       { return i.entry.Name }
func (i ftpFileInfo) Size() int64        { return int64(i.entry.Size) }
func (i ftpFileInfo) Mode() os.FileMode  { return 0 }
func (i ftpFileInfo) ModTime() time.Time { return i.entry.Time }
func (i ftpFileInfo) IsDir() bool        { return i.entry.Type == ftp.EntryTypeFolder }
func (i ftpFileInfo) Sys() interface{}   { return i.entry }
