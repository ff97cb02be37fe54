package inference

import (
	"iter"
	"sync/atomic"
)

// Once wraps seq so that only the first iteration runs it. Later iterations
// yield a single ErrStreamConsumed.
func Once(seq iter.Seq2[Fragment, error]) iter.Seq2[Fragment, error] {
	var used atomic.Bool
	return func(yield func(Fragment, error) bool) {
		if used.Swap(true) {
			yield(Fragment{}, ErrStreamConsumed)
			return
		}
		seq(yield)
	}
}

// Fragments returns a one-shot sequence over fixed texts. Used by backends
// that produce their output up front and by tests.
func Fragments(texts ...string) iter.Seq2[Fragment, error] {
	return Once(func(yield func(Fragment, error) bool) {
		for _, t := range texts {
			if !yield(Fragment{Text: t}, nil) {
				return
			}
		}
	})
}

// Failed returns a one-shot sequence that yields texts and then err.
func Failed(err error, texts ...string) iter.Seq2[Fragment, error] {
	return Once(func(yield func(Fragment, error) bool) {
		for _, t := range texts {
			if !yield(Fragment{Text: t}, nil) {
				return
			}
		}
		yield(Fragment{}, err)
	})
}
