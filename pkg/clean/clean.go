// Package clean normalizes text returned by the model.
package clean

import "strings"

// Output collapses blank lines and strips one surrounding newline and one
// surrounding pair of double quotes.
func Output(s string) string {
	s = strings.ReplaceAll(s, "\n\n", "\n")
	s = strings.TrimPrefix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	return s
}

// Value applies Output to strings and returns any other value unchanged.
func Value(v any) any {
	if s, ok := v.(string); ok {
		return Output(s)
	}
	return v
}
