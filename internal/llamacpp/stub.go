//go:build !llama

package llamacpp

import "errors"

// Built reports whether this binary links llama.cpp.
const Built = false

// ErrNotBuilt is returned by every load in binaries built without llama.cpp.
var ErrNotBuilt = errors.New("llama backend not built; rebuild with -tags llama")

func openRuntime(string, runtimeOptions) (runtime, error) { return nil, ErrNotBuilt }
