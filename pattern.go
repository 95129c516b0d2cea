package xrelay

import "strings"

// TopicToGlob converts an AMQP-style topic pattern into the glob dialect used
// by Redis PSUBSCRIBE and path.Match. The multi-word wildcard "#" becomes "*".
// A single-word "*" is kept; in glob form it also spans dots.
// Patterns already in glob form pass through unchanged.
func TopicToGlob(pattern string) string {
	if !strings.Contains(pattern, "#") {
		return pattern
	}
	words := strings.Split(pattern, ".")
	for i, w := range words {
		if w == "#" {
			words[i] = "*"
		}
	}
	out := strings.Join(words, ".")
	// "a.*.*" and "a.*" match the same topics once "*" spans dots.
	for strings.Contains(out, "*.*") {
		out = strings.ReplaceAll(out, "*.*", "*")
	}
	return out
}
