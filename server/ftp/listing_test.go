package ftp

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionString(t *testing.T) {
	assert.Equal(t, "drwxr-xr-x", permissionString(fs.ModeDir|0755))
	assert.Equal(t, "-rw-r--r--", permissionString(0644))
	assert.Equal(t, "lrwxrwxrwx", permissionString(fs.ModeSymlink|0777))
	assert.Equal(t, "----------", permissionString(0))
}

func TestReadListingAndFileLine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("12345"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a"), 0755))
	require.NoError(t, os.Chmod(filepath.Join(dir, "b.txt"), 0644))
	require.NoError(t, os.Chmod(filepath.Join(dir, "a"), 0755))
	stamp := time.Date(2024, time.March, 5, 14, 7, 0, 0, time.Local)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "b.txt"), stamp, stamp))

	entries, err := readListing(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := formatListing(entries, true)
	assert.Equal(t, []string{"a", "b.txt"}, names)

	lines := formatListing(entries, false)
	assert.Regexp(t, regexp.MustCompile(`^drwxr-xr-x \S+ \S+ 4096 [A-Z][a-z]{2} \d{2} \d{2}:\d{2} a$`), lines[0])
	assert.Regexp(t, regexp.MustCompile(`^-rw-r--r-- \S+ \S+ 5 Mar 05 14:07 b\.txt$`), lines[1])

	// A file target lists just itself.
	single, err := readListing(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "b.txt", single[0].info.Name())

	_, err = readListing(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
