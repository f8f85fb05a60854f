package treesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		dir  bool
		want string
	}{
		{"root", "/", true, "/"},
		{"empty", "", false, "/"},
		{"relative file", "a/b.txt", false, "/a/b.txt"},
		{"dir gets separator", "/a/b", true, "/a/b/"},
		{"file loses separator", "/a/b/", false, "/a/b"},
		{"duplicate separators", "//a///b", false, "/a/b"},
		{"dot segments", "/a/./b/../c", false, "/a/c"},
		{"dot dot above root", "/../a", false, "/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanPath(tt.in, tt.dir))
		})
	}
}

func TestNormalizePath_ComposesNames(t *testing.T) {
	// "e" followed by a combining acute accent
	assert.Equal(t, "/caf\u00e9/", NormalizePath("cafe\u0301", true))
	assert.True(t, SamePath("/cafe\u0301", "/caf\u00e9"))
	assert.False(t, SamePath("/cafe", "/caf\u00e9"))
}

func TestPathParts(t *testing.T) {
	assert.Equal(t, "", ParentPath("/"))
	assert.Equal(t, "/", ParentPath("/a"))
	assert.Equal(t, "/", ParentPath("/a/"))
	assert.Equal(t, "/a/", ParentPath("/a/b.txt"))
	assert.Equal(t, "/a/", ParentPath("/a/b/"))

	assert.Equal(t, "b.txt", BaseName("/a/b.txt"))
	assert.Equal(t, "b", BaseName("/a/b/"))
	assert.Equal(t, "", BaseName("/"))

	assert.Equal(t, "/a/b", JoinPath("/a/", "b", false))
	assert.Equal(t, "/a/b/", JoinPath("/a", "b", true))

	assert.Equal(t, []string{"/a/b/", "/a/", "/"}, Ancestors("/a/b/c"))
	assert.Empty(t, Ancestors("/"))
}

func TestIsUnderAndRebase(t *testing.T) {
	assert.True(t, IsUnder("/a/b", "/a/"))
	assert.True(t, IsUnder("/a/", "/a/"))
	assert.False(t, IsUnder("/ab", "/a/"))
	assert.False(t, IsUnder("/a/b", "/a"))

	assert.Equal(t, "/x/b/c", Rebase("/a/b/c", "/a/", "/x/"))
	assert.Equal(t, "/other", Rebase("/other", "/a/", "/x/"))
}

func TestAlternatePath(t *testing.T) {
	assert.Equal(t, "/a/", AlternatePath("/a"))
	assert.Equal(t, "/a", AlternatePath("/a/"))
	assert.Equal(t, "/", AlternatePath("/"))
}

func TestProjection_LongestPrefixWins(t *testing.T) {
	var p projection
	p.add("/a/", "/b/")
	p.add("/a/c/", "/x/")
	p.add("/same/", "/same/")

	assert.Equal(t, "/x/f", p.forward("/a/c/f"))
	assert.Equal(t, "/b/d", p.forward("/a/d"))
	assert.Equal(t, "/z", p.forward("/z"))

	assert.Equal(t, "/a/c/f", p.backward("/x/f"))
	assert.Equal(t, "/a/d", p.backward("/b/d"))
	assert.Equal(t, "/z", p.backward("/z"))
	assert.Len(t, p.renames, 2)
}

func TestPathTracker_ReplaysInOrder(t *testing.T) {
	var tr pathTracker
	tr.add("/a/", "/tmp/")
	m := tr.mark()
	tr.add("/x/", "/a/")
	tr.add("/p", "/q")

	assert.Equal(t, "/tmp/f", tr.current("/a/f"))
	assert.Equal(t, "/a/g", tr.current("/x/g"))
	assert.Equal(t, "/q", tr.current("/p"))
	assert.Equal(t, "/p/", tr.current("/p/"))

	// a path recorded after the first rename is already in that frame
	assert.Equal(t, "/a/f", tr.currentFrom("/a/f", m))
	assert.Equal(t, "/a/g", tr.currentFrom("/x/g", m))
}
