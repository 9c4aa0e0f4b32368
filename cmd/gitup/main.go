// Command gitup clones or incrementally updates a plain on-disk snapshot
// of a remote repository served over the Git v2 smart-HTTP protocol. It
// writes no .git metadata of its own: just the files the remote's tree
// names, plus a manifest gitup uses on its next run to fetch only what
// changed.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emaste/gitup/internal/config"
	"github.com/emaste/gitup/internal/delta"
	"github.com/emaste/gitup/internal/gitlog"
	"github.com/emaste/gitup/internal/gitproto"
	"github.com/emaste/gitup/internal/hash"
	"github.com/emaste/gitup/internal/manifest"
	"github.com/emaste/gitup/internal/object"
	"github.com/emaste/gitup/internal/packfile"
	"github.com/emaste/gitup/internal/repair"
	"github.com/emaste/gitup/internal/scanner"
	"github.com/emaste/gitup/internal/store"
	"github.com/emaste/gitup/internal/transport"
	"github.com/emaste/gitup/internal/walker"
	"github.com/emaste/gitup/internal/xerrors"

	flag "github.com/spf13/pflag"
)

const (
	version           = "gitup version 1.0"
	defaultConfigPath = "/usr/local/etc/gitup.conf"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath   string
	forceClone   bool
	displayDepth int
	have         string
	keepPack     bool
	lowMemory    bool
	forceRepair  bool
	tag          string
	packFile     string
	verbosity    int
	showVersion  bool
	want         string
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("gitup", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var o options
	fs.StringVarP(&o.configPath, "config", "C", defaultConfigPath, "configuration file path")
	fs.BoolVarP(&o.forceClone, "clone", "c", false, "force a full clone")
	fs.IntVarP(&o.displayDepth, "depth", "d", 0, "display depth (0 = full path)")
	fs.StringVarP(&o.have, "have", "h", "", "override have")
	fs.BoolVarP(&o.keepPack, "keep", "k", false, "keep the fetched pack on disk")
	fs.BoolVarP(&o.lowMemory, "low-memory", "l", false, "low-memory mode")
	fs.BoolVarP(&o.forceRepair, "repair", "r", false, "force repair")
	fs.StringVarP(&o.tag, "tag", "t", "", "fetch tag")
	fs.StringVarP(&o.packFile, "use-pack", "u", "", "load pack from a local file instead of fetching")
	fs.IntVarP(&o.verbosity, "verbosity", "v", 0, "verbosity 0-2")
	fs.BoolVarP(&o.showVersion, "version", "V", false, "print version and exit")
	fs.StringVarP(&o.want, "want", "w", "", "override want")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if o.showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: gitup [flags] <section>")
		return 2
	}
	section := fs.Arg(0)

	logger := gitlog.NewLogrus(o.verbosity)
	ctx := gitlog.ToContext(context.Background(), logger)

	if err := runSection(ctx, section, o, stdout); err != nil {
		fmt.Fprintf(stderr, "gitup: %s\n", err)
		return 1
	}
	return 0
}

func runSection(ctx context.Context, section string, o options, stdout *os.File) error {
	cfg, err := config.Load(o.configPath, section)
	if err != nil {
		return err
	}

	displayDepth := cfg.DisplayDepth
	if o.displayDepth != 0 {
		displayDepth = o.displayDepth
	}

	if err := os.MkdirAll(cfg.TargetDirectory, 0o755); err != nil {
		return xerrors.New(xerrors.IOFailure, err)
	}
	if err := os.MkdirAll(cfg.WorkDirectory, 0o755); err != nil {
		return xerrors.New(xerrors.IOFailure, err)
	}

	manifestPath := filepath.Join(cfg.WorkDirectory, encodeSectionName(section))

	var prior *manifest.Manifest
	if !o.forceClone {
		m, err := manifest.Load(manifestPath)
		switch {
		case err == nil:
			prior = m
		case os.IsNotExist(err):
			// first run against this section
		default:
			return err
		}
	}

	var haveOverride hash.Hash
	if o.have != "" {
		haveOverride, err = hash.FromHex(o.have)
		if err != nil {
			return xerrors.New(xerrors.ConfigInvalid, fmt.Errorf("parsing -h: %w", err))
		}
	}

	client, err := dialClient(cfg, o)
	if err != nil {
		return err
	}

	if o.forceRepair {
		return runRepair(ctx, client, cfg, prior, manifestPath, displayDepth, o, stdout)
	}

	var want hash.Hash
	var display string

	if o.want != "" {
		want, err = hash.FromHex(o.want)
		if err != nil {
			return xerrors.New(xerrors.ConfigInvalid, fmt.Errorf("parsing -w: %w", err))
		}
		display = "(detached)"
	} else if o.packFile != "" {
		return xerrors.Newf(xerrors.ConfigInvalid, "-u requires an explicit -w want, since no ref advertisement is fetched")
	} else {
		if err := client.Discover(ctx); err != nil {
			return err
		}
		refs, err := client.LsRefs(ctx, gitproto.LsRefsOptions{
			Prefixes: []string{"HEAD", "refs/heads/", "refs/tags/"},
			Peel:     true,
			Symrefs:  true,
		})
		if err != nil {
			return err
		}

		sel := gitproto.Selector{Branch: cfg.Branch}
		if o.tag != "" {
			sel = gitproto.Selector{Tag: o.tag}
		}
		want, display, err = gitproto.ResolveWant(refs, sel, time.Now())
		if err != nil {
			return err
		}
	}

	have := haveOverride
	if have.IsZero() && prior != nil {
		have = prior.Commit
	}

	if !o.forceClone && !have.IsZero() && have.Is(want) {
		if o.verbosity >= 1 {
			fmt.Fprintf(stdout, "%s: up to date at %s\n", section, want.String()[:9])
		}
		return nil
	}

	var pack []byte
	if o.packFile != "" {
		pack, err = os.ReadFile(o.packFile)
		if err != nil {
			return xerrors.New(xerrors.IOFailure, err)
		}
	} else {
		mode := gitproto.FetchPull
		var haves []hash.Hash
		if have.IsZero() || o.forceClone {
			mode = gitproto.FetchClone
		} else {
			haves = []hash.Hash{have}
		}
		result, err := client.Fetch(ctx, gitproto.FetchOptions{
			Mode:  mode,
			Want:  []hash.Hash{want},
			Have:  haves,
			Quiet: o.verbosity == 0,
		})
		if err != nil {
			return err
		}
		pack = result.Pack
	}

	if o.keepPack {
		packPath := filepath.Join(cfg.WorkDirectory, fmt.Sprintf("%s-%s.pack", section, want.String()))
		if err := os.WriteFile(packPath, pack, 0o644); err != nil {
			return xerrors.New(xerrors.IOFailure, err)
		}
	}

	parsed, err := packfile.Parse(pack)
	if err != nil {
		return err
	}

	var localLookup delta.LocalLookup
	if prior != nil {
		localLookup = scanner.Local{Root: cfg.TargetDirectory}.HashLookup(prior.ByHash())
	}

	st, err := store.New(cfg.WorkDirectory, o.lowMemory)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if prior != nil {
		if err := manifest.Prime(st, prior); err != nil {
			return err
		}
	}
	if err := delta.Resolve(parsed, localLookup, st, false); err != nil {
		return err
	}

	commitData, typ, ok := st.Get(want)
	if !ok || typ != object.TypeCommit {
		return xerrors.Newf(xerrors.MissingObject, "commit object %s not found after fetch", want.String())
	}
	rootTree, err := walker.CommitTree(commitData)
	if err != nil {
		return err
	}

	var walkFallback walker.LocalFallback
	if localLookup != nil {
		walkFallback = walker.LocalFallback(localLookup)
	}
	stats, err := walker.Walk(st, rootTree, cfg.TargetDirectory, walker.ModeWrite, true, walkFallback)
	if err != nil {
		return err
	}

	newManifest, err := manifest.BuildFromWalk(st, want, rootTree)
	if err != nil {
		return err
	}
	if err := manifest.Save(manifestPath, newManifest); err != nil {
		return err
	}

	revisionPath := filepath.Join(cfg.TargetDirectory, ".gituprevision")
	revision := fmt.Sprintf("%s:%s\n", display, want.String()[:9])
	if err := os.WriteFile(revisionPath, []byte(revision), 0o644); err != nil {
		return xerrors.New(xerrors.IOFailure, err)
	}

	if o.verbosity >= 1 {
		printChanges(stdout, stats.Changes, displayDepth)
	}
	printUpdatingNotice(stdout, stats.Changes)

	return nil
}

func runRepair(ctx context.Context, client *gitproto.Client, cfg *config.Section, prior *manifest.Manifest, manifestPath string, displayDepth int, o options, stdout *os.File) error {
	if prior == nil {
		return xerrors.Newf(xerrors.ConfigInvalid, "repair requires a prior manifest at %s", manifestPath)
	}

	local, err := scanner.Scan(cfg.TargetDirectory, cfg.Ignores)
	if err != nil {
		return err
	}

	defects := repair.Plan(prior, local)
	if len(defects) == 0 {
		if o.verbosity >= 1 {
			fmt.Fprintln(stdout, "repair: no defects found")
		}
		return nil
	}

	wants, err := repair.WantSet(defects)
	if err != nil {
		return err
	}

	var pack []byte
	if o.packFile != "" {
		pack, err = os.ReadFile(o.packFile)
		if err != nil {
			return xerrors.New(xerrors.IOFailure, err)
		}
	} else {
		result, err := client.Fetch(ctx, gitproto.FetchOptions{
			Mode:  gitproto.FetchRepair,
			Want:  wants,
			Quiet: o.verbosity == 0,
		})
		if err != nil {
			return err
		}
		pack = result.Pack
	}

	parsed, err := packfile.Parse(pack)
	if err != nil {
		return err
	}

	localLookup := scanner.Local{Root: cfg.TargetDirectory}.HashLookup(prior.ByHash())

	st, err := store.New(cfg.WorkDirectory, o.lowMemory)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := manifest.Prime(st, prior); err != nil {
		return err
	}
	if err := delta.Resolve(parsed, localLookup, st, true); err != nil {
		return err
	}

	root := prior.Trees[0].Hash
	stats, err := walker.Walk(st, root, cfg.TargetDirectory, walker.ModeRepair, false, walker.LocalFallback(localLookup))
	if err != nil {
		return err
	}

	if o.verbosity >= 1 {
		printChanges(stdout, stats.Changes, displayDepth)
	}
	printUpdatingNotice(stdout, stats.Changes)

	fmt.Fprintf(stdout, "repair: restored %d path(s); rerun to verify\n", len(defects))
	return nil
}

func dialClient(cfg *config.Section, o options) (*gitproto.Client, error) {
	scheme := "https"
	hostport := cfg.Host
	if cfg.Port != 0 && cfg.Port != 443 {
		hostport = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}
	repoURL := fmt.Sprintf("%s://%s%s", scheme, hostport, cfg.RepositoryPath)

	tcfg := transport.Config{Proxy: cfg.ProxyConfig()}
	return gitproto.New(repoURL, tcfg, nil, o.verbosity == 0)
}

// encodeSectionName percent-hex-encodes every non-alphanumeric byte in
// name, so a section name with slashes or spaces still yields a single
// flat manifest filename.
func encodeSectionName(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isAlnum(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02x", c)
	}
	return b.String()
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// printChanges prints one line per change, truncating each path to
// depth "/"-separated components (0 = full path) and printing each
// truncated prefix only once.
func printChanges(w *os.File, changes []walker.Change, depth int) {
	seen := map[string]bool{}
	for _, c := range changes {
		disp := truncatePath(c.Path, depth)
		if seen[disp] {
			continue
		}
		seen[disp] = true
		fmt.Fprintf(w, "%c %s\n", c.Kind, disp)
	}
}

func truncatePath(path string, depth int) string {
	if depth <= 0 {
		return path
	}
	parts := strings.Split(path, "/")
	if len(parts) > depth {
		parts = parts[:depth]
	}
	return strings.Join(parts, "/")
}

// printUpdatingNotice flags a file literally named UPDATING being
// written or rewritten — some remotes ship one as an upgrade-instructions
// marker, and a silent overwrite of it is worth calling out.
func printUpdatingNotice(w *os.File, changes []walker.Change) {
	for _, c := range changes {
		if c.Kind != '-' && filepath.Base(c.Path) == "UPDATING" {
			fmt.Fprintf(w, "note: %s was updated; review it before continuing\n", c.Path)
		}
	}
}
