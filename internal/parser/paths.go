package parser

import (
	"path"
	"strings"
)

// NormalizePath converts a tool-reported file path to project-relative form
// with forward slashes. Windows separators are rewritten, a leading "./" is
// dropped, and redundant segments are collapsed.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimPrefix(p, "./")

	cleaned := path.Clean(p)
	if cleaned == "." {
		return ""
	}

	return cleaned
}

// NodeIDFile returns the file component of a test node id, the text before
// the first "::". A node id without "::" is returned whole.
func NodeIDFile(nodeID string) string {
	if idx := strings.Index(nodeID, "::"); idx >= 0 {
		return nodeID[:idx]
	}

	return nodeID
}
