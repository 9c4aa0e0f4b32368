package gitproto

import (
	"bytes"

	"github.com/emaste/gitup/internal/pktline"
	"github.com/emaste/gitup/internal/xerrors"
)

const (
	sidebandPackData = 1
	sidebandProgress = 2
	sidebandFatal    = 3
)

// extractPackfile scans a fetch response body for its "packfile" section
// and demultiplexes the side-band-64k stream that follows: channel 1
// bytes are pack data, channel 2 is progress chatter (discarded — the
// transport layer's own progress meter already tracks byte counts),
// channel 3 is a fatal error message that aborts the fetch.
func extractPackfile(resp []byte) ([]byte, error) {
	lines, err := pktline.Parse(resp)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, line := range lines {
		if bytes.Equal(line, []byte("packfile\n")) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, xerrors.Newf(xerrors.UnsupportedProtocol, "fetch response has no packfile section")
	}

	var pack bytes.Buffer
	for _, line := range lines[idx+1:] {
		if len(line) == 0 {
			continue
		}
		channel, payload := line[0], line[1:]
		switch channel {
		case sidebandPackData:
			pack.Write(payload)
		case sidebandProgress:
			// Discarded; see doc comment.
		case sidebandFatal:
			return nil, xerrors.Newf(xerrors.UnsupportedProtocol, "remote fatal error: %s", string(payload))
		default:
			return nil, xerrors.Newf(xerrors.MalformedChunking, "unknown side-band channel %d", channel)
		}
	}

	if pack.Len() == 0 {
		return nil, xerrors.Newf(xerrors.UnsupportedProtocol, "fetch response packfile section was empty")
	}
	return pack.Bytes(), nil
}
