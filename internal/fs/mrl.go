// Package fs resolves the scheme-qualified media resource locators (Mrl)
// the pipeline uses as its only addressing scheme, and registers the
// concrete backends (local disk, SMB, FTP, WebDAV) behind a small factory
// so the rest of the pipeline never branches on transport.
package fs

import (
	"fmt"
	"net/url"
	"strings"
)

// Mrl is a parsed scheme://device-uuid/path locator.
type Mrl struct {
	Scheme     string
	DeviceUUID string
	Path       string
}

// ParseMrl splits a raw mrl string into its scheme, device identifier and
// path components.
func ParseMrl(raw string) (Mrl, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Mrl{}, fmt.Errorf("parse mrl %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return Mrl{}, fmt.Errorf("parse mrl %q: missing scheme", raw)
	}
	return Mrl{Scheme: u.Scheme, DeviceUUID: u.Host, Path: strings.TrimPrefix(u.Path, "/")}, nil
}

// String reassembles the canonical scheme://device-uuid/path form.
func (m Mrl) String() string {
	return fmt.Sprintf("%s://%s/%s", m.Scheme, m.DeviceUUID, m.Path)
}
