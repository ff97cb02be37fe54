// Package inference defines the boundary between the completion client and
// whatever serves the model. It is structured into small files by concern:
//
//   - types.go: Client and Model interfaces, LoadOptions, CompletionOptions,
//     Fragment and ModelInfo.
//   - errors.go: error kinds (connection, load, not found, completion) and
//     their Is* predicates.
//   - match.go: prefix matching of loaded models against a target identifier.
//
// Backends live in sibling packages (lmstudio, llamacpp). Callers should depend
// on the interfaces here only.
package inference
