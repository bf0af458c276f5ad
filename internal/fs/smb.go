package fs

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/hirochachacha/go-smb2"
)

type smbClient struct {
	conn  net.Conn
	sess  *smb2.Session
	share *smb2.Share
}

// NewSmbDialer returns a Dialer for the "smb" scheme, backed by go-smb2.
func NewSmbDialer() Dialer {
	return func(ctx context.Context, creds Credentials) (Client, error) {
		port := creds.Port
		if port == 0 {
			port = 445
		}
		conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", creds.Host, port))
		if err != nil {
			return nil, fmt.Errorf("dial smb host %s: %w", creds.Host, err)
		}

		d := &smb2.Dialer{
			Initiator: &smb2.NTLMInitiator{
				User:     creds.Username,
				Password: creds.Password,
				Domain:   creds.Domain,
			},
		}
		sess, err := d.DialContext(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("smb session to %s: %w", creds.Host, err)
		}
		share, err := sess.Mount(creds.Share)
		if err != nil {
			sess.Logoff()
			conn.Close()
			return nil, fmt.Errorf("mount smb share %s: %w", creds.Share, err)
		}
		return &smbClient{conn: conn, sess: sess, share: share}, nil
	}
}

func (c *smbClient) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return c.share.Open(path)
}

func (c *smbClient) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	return c.share.Stat(path)
}

func (c *smbClient) Close() error {
	c.share.Umount()
	c.sess.Logoff()
	return c.conn.Close()
}
