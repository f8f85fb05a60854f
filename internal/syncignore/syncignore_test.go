package syncignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openmined/treesync/internal/treesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldIgnore_Defaults(t *testing.T) {
	l, err := New(nil, nil)
	require.NoError(t, err)

	tests := []struct {
		path   string
		ignore bool
	}{
		{"/", false},
		{"/docs/", false},
		{"/docs/report.txt", false},
		{"/.git/", true},
		{"/.git/config", true},
		{"/docs/.hidden", true},
		{"/docs/draft.tmp", true},
		{"/docs/notes.txt~", true},
		{"/" + treesync.TempPrefix + "1234/", true},
		{"/" + treesync.TempPrefix + "1234/child", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.ignore, l.ShouldIgnore(tt.path))
		})
	}
}

func TestShouldIgnore_UserLines(t *testing.T) {
	l, err := New([]string{"", "# comment", "*.bak", "private/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Rules())

	assert.True(t, l.ShouldIgnore("/a/b.bak"))
	assert.True(t, l.ShouldIgnore("/private/"))
	assert.True(t, l.ShouldIgnore("/private/secret.txt"))
	assert.False(t, l.ShouldIgnore("/public/file.txt"))
}

func TestShouldIgnore_Includes(t *testing.T) {
	l, err := New(nil, []string{"projects/alpha/**", "*.md"})
	require.NoError(t, err)

	assert.False(t, l.ShouldIgnore("/"))
	assert.False(t, l.ShouldIgnore("/README.md"))
	assert.False(t, l.ShouldIgnore("/projects/"), "directories on the way to an include stay")
	assert.False(t, l.ShouldIgnore("/projects/alpha/"))
	assert.False(t, l.ShouldIgnore("/projects/alpha/src/main.go"))
	assert.True(t, l.ShouldIgnore("/projects/beta/"))
	assert.True(t, l.ShouldIgnore("/notes.txt"))
}

func TestNew_RejectsBadInclude(t *testing.T) {
	_, err := New(nil, []string{"[unclosed"})
	assert.ErrorIs(t, err, ErrBadPattern)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, FileName)

	l, err := Load(file, nil)
	require.NoError(t, err)
	assert.Zero(t, l.Rules())
	assert.False(t, l.ShouldIgnore("/build/out.bin"))

	require.NoError(t, os.WriteFile(file, []byte("build/\n"), 0o644))
	l, err = Load(file, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, l.Rules())
	assert.True(t, l.ShouldIgnore("/build/out.bin"))
}

func TestFilter_KeepsRoot(t *testing.T) {
	entries := []treesync.Entry{
		{Path: "/"},
		{Path: "/.cache/"},
		{Path: "/.cache/x"},
		{Path: "/keep.txt"},
	}

	defaults, err := New(nil, nil)
	require.NoError(t, err)
	var paths []string
	for _, e := range defaults.Filter(entries) {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"/", "/keep.txt"}, paths)

	everything, err := New([]string{"*"}, nil)
	require.NoError(t, err)
	kept := everything.Filter(entries)
	require.Len(t, kept, 1)
	assert.Equal(t, "/", kept[0].Path)
}
