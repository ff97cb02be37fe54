// Package session runs the single request/response cycle: read one line,
// request a greedy completion, and stream it to the terminal.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/rs/zerolog"

	"complete/internal/inference"
	"complete/internal/metrics"
	"complete/internal/term"
)

// Hint is shown, dimmed, above the input line.
const Hint = "write something and press enter..."

// Temperature is fixed at 0 so the same prompt against the same model state
// always yields the same text.
const Temperature = 0.0

// ErrNoInput is returned when input closes before any text was typed.
var ErrNoInput = errors.New("no input")

// Config wires a Session. In and Out are required.
type Config struct {
	In      io.Reader
	Out     io.Writer
	Palette *term.Palette
	Logger  zerolog.Logger
	Metrics *metrics.Client
}

// Session is one interactive completion exchange.
type Session struct {
	in      *bufio.Reader
	out     io.Writer
	palette *term.Palette
	log     zerolog.Logger
	metrics *metrics.Client
}

// New constructs a Session.
func New(cfg Config) *Session {
	s := &Session{
		in:      bufio.NewReader(cfg.In),
		out:     cfg.Out,
		palette: cfg.Palette,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
	if s.palette == nil {
		s.palette = term.NewPalette(term.ColorNever)
	}
	return s
}

// Run prompts for one line and streams the model's completion of it.
func (s *Session) Run(ctx context.Context, model inference.Model) error {
	if _, err := io.WriteString(s.out, term.ClearLine); err != nil {
		return fmt.Errorf("write terminal: %w", err)
	}
	s.palette.Hint(s.out, Hint)

	prompt, err := ReadLine(s.in)
	if err != nil {
		return err
	}
	// The terminal echoed the line and a newline; continue right after the text.
	if _, err := io.WriteString(s.out, term.CursorForward(runewidth.StringWidth(prompt))+term.CursorUp(1)); err != nil {
		return fmt.Errorf("write terminal: %w", err)
	}
	s.log.Debug().Str("model", model.Info().Identifier).Int("prompt_len", len(prompt)).Msg("requesting completion")

	start := time.Now()
	n, err := s.stream(ctx, model, prompt)
	s.metrics.ObserveCompletion(start, err)
	s.log.Debug().Int("fragments", n).Dur("dur", time.Since(start)).Err(err).Msg("completion finished")
	return err
}

// stream writes each fragment as its own write, wrapped in the content color.
// The color is reset even when the stream fails part way.
func (s *Session) stream(ctx context.Context, model inference.Model, prompt string) (n int, err error) {
	if _, err := io.WriteString(s.out, s.palette.ContentStart()); err != nil {
		return 0, fmt.Errorf("write terminal: %w", err)
	}
	defer func() {
		if _, werr := io.WriteString(s.out, s.palette.ContentReset()); werr != nil && err == nil {
			err = fmt.Errorf("write terminal: %w", werr)
		}
	}()

	for frag, ferr := range model.Complete(ctx, prompt, inference.CompletionOptions{Temperature: Temperature}) {
		if ferr != nil {
			return n, ferr
		}
		if _, err := io.WriteString(s.out, frag.Text); err != nil {
			return n, fmt.Errorf("write terminal: %w", err)
		}
		n++
		s.metrics.ObserveFragment()
	}
	return n, nil
}

// ReadLine reads one newline-terminated line without its line ending. Text
// cut off by end of input is returned as the line; end of input with no text
// yields ErrNoInput.
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read input: %w", err)
		}
		if line == "" {
			return "", ErrNoInput
		}
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}
