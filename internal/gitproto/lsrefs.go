package gitproto

import (
	"context"
	"fmt"
	"strings"

	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/pktline"
	"github.com/emaste/gitup/internal/xerrors"
)

// LsRefsOptions configures the ls-refs command. An empty Prefixes
// requests every ref; Peel/Symrefs request the matching capability so
// the server annotates tag peeling and symbolic-ref targets.
type LsRefsOptions struct {
	Prefixes []string
	Peel     bool
	Symrefs  bool
}

// LsRefs runs the ls-refs command and returns every advertised ref
// matching opts.Prefixes.
func (c *Client) LsRefs(ctx context.Context, opts LsRefsOptions) ([]RefAd, error) {
	logger := logFor(ctx)

	lines := []pktline.Pack{
		pktline.Line("command=ls-refs\n"),
		pktline.Line("object-format=sha1\n"),
		pktline.Delim,
	}
	if opts.Peel {
		lines = append(lines, pktline.Line("peel\n"))
	}
	if opts.Symrefs {
		lines = append(lines, pktline.Line("symrefs\n"))
	}
	for _, prefix := range opts.Prefixes {
		lines = append(lines, pktline.Line(fmt.Sprintf("ref-prefix %s\n", prefix)))
	}

	body := pktline.Format(lines...)
	req := c.request("POST", "/git-upload-pack", "", "application/x-git-upload-pack-request", body)

	resp, err := c.exchange(ctx, req, nil)
	if err != nil {
		return nil, err
	}

	parsed, err := pktline.Parse(resp)
	if err != nil {
		return nil, err
	}

	refs := make([]RefAd, 0, len(parsed))
	for _, line := range parsed {
		ref, ok, err := parseRefLine(line)
		if err != nil {
			return nil, err
		}
		if ok {
			refs = append(refs, ref)
		}
	}

	logger.Debug("ls-refs", "prefixes", opts.Prefixes, "refCount", len(refs))
	return refs, nil
}

// parseRefLine parses one ls-refs response line: "<hash> <refname>" with
// optional trailing space-separated attributes. The only attribute gitup
// acts on is "peeled:<hash>", recording the tag's peeled commit; any
// other attribute (symref-target:…) is discarded.
func parseRefLine(line []byte) (RefAd, bool, error) {
	text := strings.TrimSuffix(string(line), "\n")
	if text == "" {
		return RefAd{}, false, nil
	}
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return RefAd{}, false, xerrors.Newf(xerrors.UnsupportedProtocol, "malformed ls-refs line %q", text)
	}
	h, err := hash.FromHex(fields[0])
	if err != nil {
		return RefAd{}, false, xerrors.Newf(xerrors.UnsupportedProtocol, "malformed ls-refs hash %q: %w", fields[0], err)
	}

	ref := RefAd{Hash: h, Name: fields[1]}
	for _, attr := range fields[2:] {
		if peeledHex, ok := strings.CutPrefix(attr, "peeled:"); ok {
			peeled, err := hash.FromHex(peeledHex)
			if err == nil {
				ref.Peeled = peeled
			}
		}
	}
	return ref, true, nil
}
