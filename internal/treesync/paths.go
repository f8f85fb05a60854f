package treesync

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	Separator = "/"
	RootPath  = "/"
)

// NormalizePath converts p to NFC and cleans it. dir forces the directory
// form (trailing separator). Remote names often arrive decomposed (NFD) while
// the local store holds composed names, so both sides pass through here at
// ingestion.
func NormalizePath(p string, dir bool) string {
	return CleanPath(norm.NFC.String(p), dir)
}

// CleanPath collapses duplicate and relative segments and returns an
// absolute slash-separated path. Directories end with the separator, files
// never do.
func CleanPath(p string, dir bool) string {
	parts := strings.Split(p, Separator)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return RootPath
	}
	clean := Separator + strings.Join(out, Separator)
	if dir {
		clean += Separator
	}
	return clean
}

// IsDirPath reports whether p is in directory form.
func IsDirPath(p string) bool {
	return strings.HasSuffix(p, Separator)
}

// ParentPath returns the directory containing p, or "" for the root.
func ParentPath(p string) string {
	if p == RootPath || p == "" {
		return ""
	}
	trimmed := strings.TrimSuffix(p, Separator)
	idx := strings.LastIndex(trimmed, Separator)
	if idx < 0 {
		return ""
	}
	return trimmed[:idx+1]
}

// BaseName returns the last segment of p without any trailing separator.
func BaseName(p string) string {
	trimmed := strings.TrimSuffix(p, Separator)
	idx := strings.LastIndex(trimmed, Separator)
	return trimmed[idx+1:]
}

// JoinPath appends name to the directory parent.
func JoinPath(parent, name string, dir bool) string {
	if !IsDirPath(parent) {
		parent += Separator
	}
	joined := parent + name
	if dir {
		joined += Separator
	}
	return joined
}

// IsUnder reports whether p equals dir or lies below it. dir must be in
// directory form.
func IsUnder(p, dir string) bool {
	return IsDirPath(dir) && strings.HasPrefix(p, dir)
}

// Rebase moves p from under oldPrefix to under newPrefix. Paths outside
// oldPrefix are returned unchanged.
func Rebase(p, oldPrefix, newPrefix string) string {
	if !IsUnder(p, oldPrefix) {
		return p
	}
	return newPrefix + p[len(oldPrefix):]
}

// SamePath compares two paths after NFC normalization.
func SamePath(a, b string) bool {
	return a == b || norm.NFC.String(a) == norm.NFC.String(b)
}

// Ancestors returns every proper ancestor directory of p, nearest first.
func Ancestors(p string) []string {
	var out []string
	for parent := ParentPath(p); parent != ""; parent = ParentPath(parent) {
		out = append(out, parent)
	}
	return out
}

type rename struct {
	from string
	to   string
}

// projection maps target paths as they were when a pass started onto the
// paths they will have once the directory renames emitted so far are applied.
// All recorded prefixes are in the starting frame, so the longest matching
// prefix wins (a renamed child inside a renamed parent).
type projection struct {
	renames []rename
}

func (p *projection) add(from, to string) {
	if from == to {
		return
	}
	p.renames = append(p.renames, rename{from: from, to: to})
	sort.SliceStable(p.renames, func(i, j int) bool {
		return len(p.renames[i].from) > len(p.renames[j].from)
	})
}

// forward maps a starting-frame path to its final-frame path.
func (p *projection) forward(path string) string {
	for _, r := range p.renames {
		if IsUnder(path, r.from) {
			return Rebase(path, r.from, r.to)
		}
	}
	return path
}

// backward maps a final-frame path to the starting-frame path that will end up
// there.
func (p *projection) backward(path string) string {
	best := -1
	for i, r := range p.renames {
		if IsUnder(path, r.to) && (best < 0 || len(r.to) > len(p.renames[best].to)) {
			best = i
		}
	}
	if best < 0 {
		return path
	}
	return Rebase(path, p.renames[best].to, p.renames[best].from)
}

// pathTracker follows paths on a side that has no id lookup while renames are
// applied one after another. Each rename is expressed in the frame current
// at the time it ran, so they are replayed in order.
type pathTracker struct {
	renames []rename
}

func (t *pathTracker) add(from, to string) {
	if from == to {
		return
	}
	t.renames = append(t.renames, rename{from: from, to: to})
}

// mark returns a position that later calls to currentFrom can replay from.
func (t *pathTracker) mark() int {
	return len(t.renames)
}

// current maps a path from the pass's starting snapshot to where the node is
// now.
func (t *pathTracker) current(path string) string {
	return t.currentFrom(path, 0)
}

// currentFrom replays only the renames recorded at or after start.
func (t *pathTracker) currentFrom(path string, start int) string {
	for _, r := range t.renames[start:] {
		if IsDirPath(r.from) {
			path = Rebase(path, r.from, r.to)
		} else if path == r.from {
			path = r.to
		}
	}
	return path
}

// AlternatePath flips p between its file and directory form. Stores that
// key nodes by name alone treat both forms as the same slot.
func AlternatePath(p string) string {
	if p == RootPath {
		return p
	}
	if IsDirPath(p) {
		return strings.TrimSuffix(p, Separator)
	}
	return p + Separator
}
