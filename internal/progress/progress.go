package progress

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/oshokin/gameserver-deploy/internal/logger"
)

const (
	// barWidth is the width of the rendered bar in cells.
	barWidth = 40

	// renderInterval throttles terminal redraws.
	renderInterval = 100 * time.Millisecond

	// logStep is the percentage step between log lines on non-terminals.
	logStep = 10
)

// Reporter is an io.Writer that counts bytes passing through it and reports
// progress against a declared total. On a terminal it redraws a progress bar;
// elsewhere it emits a log line every logStep percent.
type Reporter struct {
	// ctx carries the logger for non-terminal reporting.
	ctx context.Context
	// out receives the rendered bar.
	out io.Writer
	// bar renders the bar itself.
	bar progress.Model
	// total is the declared size in bytes; zero or less when unknown.
	total int64
	// written is the number of bytes seen so far.
	written int64
	// terminal selects bar rendering over log lines.
	terminal bool
	// lastRender is when the bar was last drawn.
	lastRender time.Time
	// lastStep is the last percentage step logged.
	lastStep int64
	// now returns the current time.
	now func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithTerminal forces bar rendering on or off regardless of the output type.
func WithTerminal(terminal bool) Option {
	return func(r *Reporter) {
		r.terminal = terminal
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		r.now = now
	}
}

// fdWriter is implemented by *os.File.
type fdWriter interface {
	Fd() uintptr
}

// New creates a Reporter writing the bar to out for a transfer of total bytes.
func New(ctx context.Context, out io.Writer, total int64, opts ...Option) *Reporter {
	r := &Reporter{
		ctx:      ctx,
		out:      out,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth)),
		total:    total,
		terminal: isTerminal(out),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Write counts p and reports progress. It never fails.
func (r *Reporter) Write(p []byte) (int, error) {
	r.written += int64(len(p))

	if r.terminal {
		if now := r.now(); now.Sub(r.lastRender) >= renderInterval || r.complete() {
			r.lastRender = now
			r.render()
		}

		return len(p), nil
	}

	if r.total > 0 {
		if step := r.written * 100 / r.total / logStep; step > r.lastStep {
			r.lastStep = step
			logger.InfoKV(r.ctx, "Download progress",
				"percent", min(step*logStep, 100),
				"done", humanize.IBytes(uint64(r.written)),
				"total", humanize.IBytes(uint64(r.total)))
		}
	}

	return len(p), nil
}

// Written returns the number of bytes seen so far.
func (r *Reporter) Written() int64 {
	return r.written
}

// Done draws the final state and terminates the bar line.
func (r *Reporter) Done() {
	if !r.terminal {
		return
	}

	r.render()

	_, _ = fmt.Fprintln(r.out)
}

// Percent returns the completed fraction in [0, 1]; zero when the total is unknown.
func (r *Reporter) Percent() float64 {
	if r.total <= 0 {
		return 0
	}

	return min(float64(r.written)/float64(r.total), 1)
}

// complete reports whether the declared total has been reached.
func (r *Reporter) complete() bool {
	return r.total > 0 && r.written >= r.total
}

// render redraws the bar in place.
func (r *Reporter) render() {
	size := humanize.IBytes(uint64(r.written))
	if r.total > 0 {
		size += " / " + humanize.IBytes(uint64(r.total))
	}

	_, _ = fmt.Fprintf(r.out, "\r%s %s", r.bar.ViewAs(r.Percent()), size)
}

// isTerminal reports whether w is a terminal file descriptor.
func isTerminal(w io.Writer) bool {
	f, ok := w.(fdWriter)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
