package main

import (
	"slices"
	"strings"
)

// Change replaces the byte range [Start, End) of the original source with Text.
type Change struct {
	Start int32
	End   int32
	Text  string
}

func overlaps(a, b Change) bool {
	return a.Start < b.End && b.Start < a.End
}

// applyChangesToContent applies every change in a single pass over content.
// All offsets refer to the original content, so earlier edits never shift
// later ones. When changes overlap, the longest wins; equal lengths keep the
// one that starts first. Empty ranges (pure insertions) never conflict with
// a range that merely touches them.
func applyChangesToContent(content string, changes []Change) string {
	if len(changes) == 0 {
		return content
	}

	ordered := slices.Clone(changes)
	slices.SortStableFunc(ordered, func(a, b Change) int {
		lenA, lenB := a.End-a.Start, b.End-b.Start
		if lenA != lenB {
			return int(lenB - lenA)
		}
		return int(a.Start - b.Start)
	})

	picked := make([]Change, 0, len(ordered))
	for _, c := range ordered {
		if c.Start < 0 || c.End < c.Start || int(c.End) > len(content) {
			continue
		}
		if slices.ContainsFunc(picked, func(p Change) bool { return overlaps(c, p) }) {
			continue
		}
		picked = append(picked, c)
	}

	slices.SortStableFunc(picked, func(a, b Change) int {
		if a.Start != b.Start {
			return int(a.Start - b.Start)
		}
		return int(a.End - b.End)
	})

	var builder strings.Builder
	builder.Grow(len(content))
	lastPos := int32(0)
	for _, c := range picked {
		if c.Start < lastPos {
			continue
		}
		builder.WriteString(content[lastPos:c.Start])
		builder.WriteString(c.Text)
		lastPos = c.End
	}
	builder.WriteString(content[lastPos:])

	return builder.String()
}
