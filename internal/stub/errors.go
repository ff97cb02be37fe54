package stub

import "net/http"

// modelNotFoundError signals no catalog artifact matches a load request.
type modelNotFoundError struct{ path string }

func (e modelNotFoundError) Error() string   { return "no model artifact matches " + e.path }
func (e modelNotFoundError) StatusCode() int { return http.StatusNotFound }

// ErrModelNotFound constructs a modelNotFoundError.
func ErrModelNotFound(path string) error { return modelNotFoundError{path: path} }

// IsModelNotFound reports whether err indicates a missing artifact.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// notLoadedError signals a lookup or completion against a model that is not resident.
type notLoadedError struct{ id string }

func (e notLoadedError) Error() string   { return "model not loaded: " + e.id }
func (e notLoadedError) StatusCode() int { return http.StatusNotFound }

// ErrNotLoaded constructs a notLoadedError.
func ErrNotLoaded(id string) error { return notLoadedError{id: id} }

// IsNotLoaded reports whether err indicates a model that is not resident.
func IsNotLoaded(err error) bool {
	_, ok := err.(notLoadedError)
	return ok
}

// loadFailedError signals a scripted load failure (e.g. insufficient memory).
type loadFailedError struct{ path, reason string }

func (e loadFailedError) Error() string   { return "failed to load " + e.path + ": " + e.reason }
func (e loadFailedError) StatusCode() int { return http.StatusInternalServerError }
