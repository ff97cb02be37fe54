package inference

import "errors"

// connectionError signals the backend could not be reached.
type connectionError struct {
	msg string
	err error
}

func (e *connectionError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *connectionError) Unwrap() error { return e.err }

// ErrConnection constructs a connection error wrapping cause.
func ErrConnection(msg string, cause error) error { return &connectionError{msg: msg, err: cause} }

// IsConnection reports whether err indicates an unreachable backend.
func IsConnection(err error) bool {
	var e *connectionError
	return errors.As(err, &e)
}

// loadError signals a failed model load (missing artifact, no resources, ...).
type loadError struct {
	path string
	msg  string
	err  error
}

func (e *loadError) Error() string {
	s := "load " + e.path + ": " + e.msg
	if e.err != nil {
		s += ": " + e.err.Error()
	}
	return s
}

func (e *loadError) Unwrap() error { return e.err }

// ErrLoad constructs a load error for path.
func ErrLoad(path, msg string, cause error) error { return &loadError{path: path, msg: msg, err: cause} }

// IsLoad reports whether err indicates a failed model load.
func IsLoad(err error) bool {
	var e *loadError
	return errors.As(err, &e)
}

// notFoundError signals no loaded model matched a lookup.
type notFoundError struct{ path string }

func (e *notFoundError) Error() string { return "model not loaded: " + e.path }

// ErrNotFound constructs a not-found error for path.
func ErrNotFound(path string) error { return &notFoundError{path: path} }

// IsNotFound reports whether err indicates a missing loaded model.
func IsNotFound(err error) bool {
	var e *notFoundError
	return errors.As(err, &e)
}

// completionError signals a failure while generating.
type completionError struct {
	msg string
	err error
}

func (e *completionError) Error() string {
	if e.err != nil {
		return "completion: " + e.msg + ": " + e.err.Error()
	}
	return "completion: " + e.msg
}

func (e *completionError) Unwrap() error { return e.err }

// ErrCompletion constructs a completion error wrapping cause.
func ErrCompletion(msg string, cause error) error { return &completionError{msg: msg, err: cause} }

// IsCompletion reports whether err indicates a failed completion stream.
func IsCompletion(err error) bool {
	var e *completionError
	return errors.As(err, &e)
}

// ErrStreamConsumed is yielded when a completion sequence is iterated twice.
var ErrStreamConsumed = errors.New("completion stream already consumed")
