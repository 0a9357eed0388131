// Package extract isolates the structured block embedded in a free-form model reply.
package extract

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a reply contains no {...} span.
var ErrNotFound = errors.New("no structured block found in reply")

// StructuredBlock returns the substring from the first '{' to the last '}'
// inclusive. The match is greedy: commentary around the object is dropped, but
// a reply carrying several independent objects yields one span covering all of
// them. No parsing happens here.
func StructuredBlock(raw string) (string, error) {
	start := strings.Index(raw, "{")
	if start < 0 {
		return "", ErrNotFound
	}
	end := strings.LastIndex(raw, "}")
	if end < start {
		return "", ErrNotFound
	}
	return raw[start : end+1], nil
}
