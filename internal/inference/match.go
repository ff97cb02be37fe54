package inference

import "strings"

// Matches reports whether a loaded model corresponds to target. The backend
// may append a variant suffix to the nominal path, so a prefix match is used.
// Only the path is compared; identifiers are server-assigned.
func Matches(m ModelInfo, target string) bool {
	if target == "" {
		return false
	}
	return strings.HasPrefix(m.Path, target)
}

// FindLoaded returns the first model in loaded that matches target.
func FindLoaded(loaded []ModelInfo, target string) (ModelInfo, bool) {
	for _, m := range loaded {
		if Matches(m, target) {
			return m, true
		}
	}
	return ModelInfo{}, false
}
