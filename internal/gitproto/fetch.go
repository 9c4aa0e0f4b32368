package gitproto

import (
	"context"
	"fmt"

	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/pktline"
	"github.com/emaste/gitup/internal/transport"
	"github.com/emaste/gitup/internal/xerrors"
)

// FetchMode selects which of the three fetch command shapes to send.
// They differ only in which "want" lines and options go on the wire —
// the response framing (acks/shallow-info/wanted-refs/packfile) is
// identical in all three.
type FetchMode int

const (
	// FetchClone wants a depth-1 snapshot of Want (sent as both a
	// "shallow" and a "want" line) with no haves: a fresh repository.
	FetchClone FetchMode = iota
	// FetchPull wants a depth-1 snapshot of Want, informing the server of
	// the previously-fetched commit via Have (also marked shallow) and
	// accepting a thin pack, so it can send only what changed.
	FetchPull
	// FetchRepair wants each hash in Want at depth 1 and accepts a thin
	// pack, with no shallow lines — the want-set itself is computed by
	// the caller from locally-detected defects.
	FetchRepair
)

// FetchOptions configures one fetch command invocation.
type FetchOptions struct {
	Mode  FetchMode
	Want  []hash.Hash
	Have  []hash.Hash
	Quiet bool
}

// FetchResult is the packfile byte stream, already demultiplexed from
// the response's side-band channels.
type FetchResult struct {
	Pack []byte
}

// Fetch runs the fetch command and returns the raw packfile bytes ready
// for internal/packfile to parse.
func (c *Client) Fetch(ctx context.Context, opts FetchOptions) (*FetchResult, error) {
	logger := logFor(ctx)
	if len(opts.Want) == 0 {
		return nil, xerrors.Newf(xerrors.ConfigInvalid, "fetch requires at least one want")
	}

	lines := []pktline.Pack{
		pktline.Line("command=fetch\n"),
		pktline.Line("object-format=sha1\n"),
		pktline.Delim,
	}
	if opts.Mode != FetchClone {
		lines = append(lines, pktline.Line("thin-pack\n"))
	}
	if opts.Quiet {
		lines = append(lines, pktline.Line("no-progress\n"))
	}
	lines = append(lines, pktline.Line("ofs-delta\n"))
	if opts.Mode != FetchRepair {
		for _, s := range append(append([]hash.Hash{}, opts.Want...), opts.Have...) {
			lines = append(lines, pktline.Line(fmt.Sprintf("shallow %s\n", s.String())))
		}
	}
	if opts.Mode != FetchClone {
		lines = append(lines, pktline.Line("deepen 1\n"))
	}
	for _, w := range opts.Want {
		lines = append(lines, pktline.Line(fmt.Sprintf("want %s\n", w.String())))
	}
	for _, h := range opts.Have {
		lines = append(lines, pktline.Line(fmt.Sprintf("have %s\n", h.String())))
	}
	lines = append(lines, pktline.Line("done\n"), pktline.Flush)

	body := pktline.Format(lines...)
	req := c.request("POST", "/git-upload-pack", "", "application/x-git-upload-pack-request", body)

	logger.Debug("fetch", "mode", opts.Mode, "wantCount", len(opts.Want), "haveCount", len(opts.Have))

	var meter *transport.Meter
	if !opts.Quiet {
		meter = transport.NewMeter("receiving objects", -1, false)
	}

	resp, err := c.exchange(ctx, req, meter)
	if meter != nil {
		meter.Done()
	}
	if err != nil {
		return nil, err
	}

	pack, err := extractPackfile(resp)
	if err != nil {
		return nil, err
	}

	logger.Debug("fetch completed", "packBytes", len(pack))
	return &FetchResult{Pack: pack}, nil
}
