package cache

import (
	"fmt"
	"sort"
	"strings"
)

// Key identifies a cached API response.
type Key struct {
	// Operation is the logical operation name (e.g., "getPaper").
	Operation string

	// Params are the normalized request parameters (e.g., {"id": "abc"}).
	Params map[string]string
}

// String generates a deterministic cache key string.
// Format: operation:param1=val1:param2=val2 with parameters sorted by name,
// so semantically equal requests produce identical keys.
//
// Example:
//
//	getPaper:id=abc
func (k Key) String() string {
	parts := []string{k.Operation}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params[name]))
		}
	}

	return strings.Join(parts, ":")
}
