package transport

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Meter reports pack-download progress. On a terminal and at normal or
// higher verbosity it renders a live bar; otherwise Advance is a no-op,
// matching the "quiet unless interactive" posture the rest of the
// codebase's logging takes.
type Meter struct {
	progress *mpb.Progress
	bar      *mpb.Bar
}

// NewMeter builds a Meter for a transfer of total bytes (-1 if unknown).
// quiet suppresses the bar even on a terminal, for non-verbose runs.
func NewMeter(name string, total int64, quiet bool) *Meter {
	if quiet || !isatty.IsTerminal(os.Stderr.Fd()) {
		return &Meter{}
	}

	p := mpb.New(
		mpb.WithOutput(os.Stderr),
		mpb.WithAutoRefresh(),
		mpb.WithRefreshRate(time.Second),
	)

	bar := p.New(total,
		mpb.BarStyle().Filler("#").Padding(" "),
		mpb.BarRemoveOnComplete(),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.CountersKibiByte("% .1f / % .1f"),
		),
		mpb.AppendDecorators(
			decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 60),
			decor.Name(" "),
			decor.OnComplete(decor.EwmaETA(decor.ET_STYLE_GO, 60), "done"),
		),
	)

	return &Meter{progress: p, bar: bar}
}

// Advance reports n more bytes transferred. Safe to call on a nil Meter.
func (m *Meter) Advance(n int) {
	if m == nil || m.bar == nil {
		return
	}
	m.bar.IncrBy(n)
}

// Done removes the bar from the terminal and waits for the renderer to
// flush.
func (m *Meter) Done() {
	if m == nil || m.bar == nil {
		return
	}
	if !m.bar.Completed() {
		m.bar.SetCurrent(m.bar.Current())
		m.bar.Abort(true)
	}
	m.progress.Wait()
}
