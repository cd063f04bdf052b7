package patch

import (
	"bytes"
	"strings"
)

// Patch describes a single-line insertion applied to one file of the
// mirrored tree. The patch is textual and deterministic: the same input
// always produces the same output.
type Patch struct {
	File   string // path relative to the tree root
	Marker string // prefix of the line the insertion anchors to
	Insert string // line inserted immediately before the marker line
}

// Enabled reports whether the patch is configured at all.
func (p Patch) Enabled() bool {
	return p.File != "" && p.Marker != ""
}

// Apply inserts p.Insert as its own line immediately before the first line
// whose content (ignoring leading whitespace) starts with p.Marker.
// The insertion happens exactly once. If no line matches the marker, the
// content is returned unchanged and the second return value is false.
func (p Patch) Apply(content []byte) ([]byte, bool) {
	lines := strings.Split(string(content), "\n")

	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimLeft(line, " \t"), p.Marker) {
			continue
		}

		var buf bytes.Buffer
		for j, l := range lines {
			if j == i {
				buf.WriteString(p.Insert)
				buf.WriteString("\n")
			}
			buf.WriteString(l)
			if j < len(lines)-1 {
				buf.WriteString("\n")
			}
		}
		return buf.Bytes(), true
	}

	return content, false
}
