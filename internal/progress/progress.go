// Package progress renders model-load progress as a single animated line.
package progress

import (
	"fmt"
	"io"
	"time"

	"complete/internal/term"
)

// Frames are the spinner glyphs, advanced every FrameInterval of wall-clock time.
var Frames = [...]string{"-", "\\", "|", "/"}

// FrameInterval is the spinner cadence.
const FrameInterval = 100 * time.Millisecond

// Renderer overwrites the current terminal line with a spinner and percentage.
type Renderer struct {
	w   io.Writer
	now func() time.Time
}

// NewRenderer returns a renderer writing to w using the wall clock.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (r *Renderer) WithClock(now func() time.Time) *Renderer {
	r.now = now
	return r
}

// Render draws one frame for fraction p. Values outside [0,1] are clamped.
// Write errors are ignored.
func (r *Renderer) Render(p float64) {
	_, _ = io.WriteString(r.w, Line(r.now(), p))
}

// Consume renders every value received on ch until it is closed.
func (r *Renderer) Consume(ch <-chan float64) {
	for p := range ch {
		r.Render(p)
	}
}

// Line formats the progress line for fraction p at time now.
func Line(now time.Time, p float64) string {
	return term.ClearLine + Frame(now) + " Model loading: " + Percent(p) + "%"
}

// Frame picks the spinner glyph for now.
func Frame(now time.Time) string {
	tick := now.UnixMilli() / FrameInterval.Milliseconds()
	return Frames[tick%int64(len(Frames))]
}

// Percent formats p as a percentage with two decimals, clamped to [0,100].
func Percent(p float64) string {
	switch {
	case p != p: // NaN
		p = 0
	case p < 0:
		p = 0
	case p > 1:
		p = 1
	}
	return fmt.Sprintf("%.2f", p*100)
}
