package gitproto

import (
	"bytes"
	"context"

	"github.com/emaste/gitup/internal/pktline"
	"github.com/emaste/gitup/internal/xerrors"
)

// Discover performs the info/refs?service=git-upload-pack GET request and
// confirms the server advertises protocol v2. The capability
// advertisement's ref list (v0-style) is ignored; everything gitup needs
// comes from a subsequent ls-refs call, per protocol v2's design.
func (c *Client) Discover(ctx context.Context) error {
	logger := logFor(ctx)
	req := c.request("GET", "/info/refs", "service=git-upload-pack", "", nil)

	body, err := c.exchange(ctx, req, nil)
	if err != nil {
		return err
	}

	lines, err := pktline.Parse(body)
	if err != nil {
		return err
	}

	sawServiceHeader := false
	sawVersion2 := false
	for _, line := range lines {
		switch {
		case bytes.Equal(bytes.TrimSuffix(line, []byte("\n")), []byte("# service=git-upload-pack")):
			sawServiceHeader = true
		case bytes.Equal(bytes.TrimSuffix(line, []byte("\n")), []byte("version 2")):
			sawVersion2 = true
		}
	}

	logger.Debug("discovery", "serviceHeader", sawServiceHeader, "version2", sawVersion2, "lines", len(lines))

	if !sawServiceHeader {
		return xerrors.Newf(xerrors.UnsupportedProtocol, "remote did not advertise git-upload-pack service")
	}
	if !sawVersion2 {
		return xerrors.Newf(xerrors.UnsupportedProtocol, "remote does not support protocol v2")
	}
	return nil
}
