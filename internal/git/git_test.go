package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumstat(t *testing.T) {
	out := "10\t2\tsrc/main.go\n0\t5\tREADME.md\n-\t-\tassets/logo.png\n"
	files := ParseNumstat(out)

	require.Len(t, files, 2, "binary files skipped")
	assert.Equal(t, DiffFile{Path: "src/main.go", Insertions: 10, Deletions: 2}, files[0])
	assert.Equal(t, DiffFile{Path: "README.md", Insertions: 0, Deletions: 5}, files[1])
}

func TestParseNumstatEmptyAndGarbage(t *testing.T) {
	assert.Empty(t, ParseNumstat(""))
	assert.Empty(t, ParseNumstat("garbage with no tabs\n"))
	assert.Empty(t, ParseNumstat("1\t2\t\n"))
}

func TestParseNumstatPathWithTabs(t *testing.T) {
	// SplitN keeps everything after the second tab as the path.
	files := ParseNumstat("1\t1\tweird\tname.go\n")
	require.Len(t, files, 1)
	assert.Equal(t, "weird\tname.go", files[0].Path)
}
