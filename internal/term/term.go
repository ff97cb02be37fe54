// Package term holds the ANSI plumbing used by the completion client:
// cursor movement, line clearing, and the three-color palette.
package term

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
)

// ClearLine returns the cursor to column 0 and erases to end of line.
const ClearLine = "\r\x1b[K"

const (
	escGreen = "\x1b[32m"
	escReset = "\x1b[0m"
)

// CursorUp moves the cursor up n lines. n <= 0 yields "".
func CursorUp(n int) string {
	if n <= 0 {
		return ""
	}
	return "\x1b[" + strconv.Itoa(n) + "A"
}

// CursorForward moves the cursor right n columns. n <= 0 yields "".
func CursorForward(n int) string {
	if n <= 0 {
		return ""
	}
	return "\x1b[" + strconv.Itoa(n) + "C"
}

// ColorMode selects when escape codes for colors are emitted.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode maps a config string to a ColorMode; unknown values mean auto.
func ParseColorMode(s string) ColorMode {
	switch ColorMode(s) {
	case ColorAlways, ColorNever:
		return ColorMode(s)
	default:
		return ColorAuto
	}
}

// Palette renders the client's colored output: green content, gray hints,
// purple status lines, and red errors.
type Palette struct {
	enabled bool
	hint    *color.Color
	status  *color.Color
	failure *color.Color
}

// NewPalette builds a palette. In auto mode colors follow fatih/color's
// terminal and NO_COLOR detection.
func NewPalette(mode ColorMode) *Palette {
	enabled := !color.NoColor
	switch mode {
	case ColorAlways:
		enabled = true
	case ColorNever:
		enabled = false
	}
	p := &Palette{
		enabled: enabled,
		hint:    color.New(color.FgHiBlack),
		status:  color.New(color.FgMagenta),
		failure: color.New(color.FgRed),
	}
	for _, c := range []*color.Color{p.hint, p.status, p.failure} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Enabled reports whether escape codes for colors are emitted.
func (p *Palette) Enabled() bool { return p.enabled }

// ContentStart is written before streamed model output.
func (p *Palette) ContentStart() string {
	if !p.enabled {
		return ""
	}
	return escGreen
}

// ContentReset is written after streamed model output.
func (p *Palette) ContentReset() string {
	if !p.enabled {
		return ""
	}
	return escReset
}

// Hint writes a dimmed line.
func (p *Palette) Hint(w io.Writer, msg string) {
	_, _ = p.hint.Fprintln(w, msg)
}

// Status writes a purple status line.
func (p *Palette) Status(w io.Writer, msg string) {
	_, _ = p.status.Fprintln(w, msg)
}

// Error writes the single fatal error line.
func (p *Palette) Error(w io.Writer, err error) {
	_, _ = p.failure.Fprintln(w, fmt.Sprintf("Error: %v", err))
}
