package ftp

import (
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
)

const (
	dirListingSize = 4096
	listTimeFormat = "Jan 02 15:04"
)

var (
	ownerNames sync.Map // uid -> name
	groupNames sync.Map // gid -> name
)

// fileLine renders "<mode> <owner> <group> <size> <Jan 02 15:04> <name>".
func fileLine(fullPath string, info fs.FileInfo) string {
	owner, group := "0", "0"
	if uid, gid, ok := fileOwner(fullPath); ok {
		owner = lookupOwner(uid)
		group = lookupGroup(gid)
	}

	size := info.Size()
	if info.IsDir() {
		size = dirListingSize
	}
	return fmt.Sprintf("%s %s %s %d %s %s",
		permissionString(info.Mode()), owner, group, size,
		info.ModTime().Format(listTimeFormat), info.Name())
}

func permissionString(mode fs.FileMode) string {
	buf := []byte("----------")
	switch {
	case mode.IsDir():
		buf[0] = 'd'
	case mode&fs.ModeSymlink != 0:
		buf[0] = 'l'
	case mode&fs.ModeNamedPipe != 0:
		buf[0] = 'p'
	case mode&fs.ModeSocket != 0:
		buf[0] = 's'
	case mode&fs.ModeCharDevice != 0:
		buf[0] = 'c'
	case mode&fs.ModeDevice != 0:
		buf[0] = 'b'
	}
	const rwx = "rwxrwxrwx"
	perm := mode.Perm()
	for i := 0; i < 9; i++ {
		if perm&(1<<uint(8-i)) != 0 {
			buf[i+1] = rwx[i]
		}
	}
	return string(buf)
}

func lookupOwner(uid uint32) string {
	if name, ok := ownerNames.Load(uid); ok {
		return name.(string)
	}
	name := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(name); err == nil {
		name = u.Username
	}
	ownerNames.Store(uid, name)
	return name
}

func lookupGroup(gid uint32) string {
	if name, ok := groupNames.Load(gid); ok {
		return name.(string)
	}
	name := strconv.FormatUint(uint64(gid), 10)
	if g, err := user.LookupGroupId(name); err == nil {
		name = g.Name
	}
	groupNames.Store(gid, name)
	return name
}

type listEntry struct {
	path string
	info fs.FileInfo
}

// readListing returns the entries of a directory in name order, or the
// single entry for a file.
func readListing(fullPath string) ([]listEntry, error) {
	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []listEntry{{path: fullPath, info: info}}, nil
	}

	dirEntries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, err
	}
	entries := make([]listEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		fi, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		entries = append(entries, listEntry{path: filepath.Join(fullPath, de.Name()), info: fi})
	}
	return entries, nil
}

func formatListing(entries []listEntry, namesOnly bool) []string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if namesOnly {
			lines = append(lines, e.info.Name())
			continue
		}
		lines = append(lines, fileLine(e.path, e.info))
	}
	return lines
}
