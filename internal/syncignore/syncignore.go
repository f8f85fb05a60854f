// Package syncignore decides which paths take part in a sync. Ignore rules use
// gitignore syntax; an optional include list of doublestar globs narrows the
// synced scope further.
package syncignore

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/treesync/internal/treesync"
	gitignore "github.com/sabhiram/go-gitignore"
)

const FileName = "treesyncignore"

var defaultIgnoreLines = []string{
	// treesync
	FileName,
	treesync.TempPrefix + "*",
	// hidden files
	".*",
	// editors
	"*~",
	"*.swp",
	"*.tmp",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

var ErrBadPattern = errors.New("syncignore: invalid include pattern")

type List struct {
	ignore   *gitignore.GitIgnore
	includes []string
	rules    int
}

// New compiles the default rules followed by lines. includes, when not
// empty, restricts syncing to paths matching at least one glob.
func New(lines []string, includes []string) (*List, error) {
	for _, p := range includes {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q", ErrBadPattern, p)
		}
	}

	all := append([]string{}, defaultIgnoreLines...)
	rules := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		all = append(all, line)
		rules++
	}

	return &List{
		ignore:   gitignore.CompileIgnoreLines(all...),
		includes: includes,
		rules:    rules,
	}, nil
}

// Load reads extra rules from file, when it exists, and compiles them with
// the defaults.
func Load(file string, includes []string) (*List, error) {
	var lines []string

	f, err := os.Open(file)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		slog.Warn("failed to open ignore file", "path", file, "error", err)
	default:
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("error reading ignore file", "path", file, "error", err)
		}
	}

	l, err := New(lines, includes)
	if err != nil {
		return nil, err
	}
	if l.rules > 0 {
		slog.Info("loaded ignore file", "path", file, "rules", l.rules)
	}
	return l, nil
}

// Rules is the number of user rules on top of the defaults.
func (l *List) Rules() int {
	return l.rules
}

// relative drops the leading separator. Directories keep the trailing one so
// rules like "build/" only match directories.
func relative(path string) string {
	return strings.TrimPrefix(path, treesync.Separator)
}

func globName(path string) string {
	return strings.Trim(path, treesync.Separator)
}

// ShouldIgnore reports whether path, or any directory above it, is excluded.
// The root is never ignored.
func (l *List) ShouldIgnore(path string) bool {
	if path == treesync.RootPath {
		return false
	}
	for _, dir := range treesync.Ancestors(path) {
		if dir != treesync.RootPath && l.ignore.MatchesPath(relative(dir)) {
			return true
		}
	}
	if l.ignore.MatchesPath(relative(path)) {
		return true
	}
	return len(l.includes) > 0 && !l.included(path)
}

// included keeps a path that matches an include glob, lies below a directory
// that does, or is a directory on the way to one.
func (l *List) included(path string) bool {
	name := globName(path)
	for _, pattern := range l.includes {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
		for _, dir := range treesync.Ancestors(path) {
			if dir == treesync.RootPath {
				continue
			}
			if ok, _ := doublestar.Match(pattern, globName(dir)); ok {
				return true
			}
		}
		if treesync.IsDirPath(path) {
			base, _ := doublestar.SplitPattern(pattern)
			if base == name || strings.HasPrefix(base, name+treesync.Separator) {
				return true
			}
		}
	}
	return false
}

// Filter drops ignored entries. The root always stays.
func (l *List) Filter(entries []treesync.Entry) []treesync.Entry {
	out := make([]treesync.Entry, 0, len(entries))
	for _, e := range entries {
		if !l.ShouldIgnore(e.Path) {
			out = append(out, e)
		}
	}
	return out
}
