// Package timeutil collects the small time and attribute helpers shared by
// the dispatcher: kernel cache expiration and attribute synthesis.
package timeutil

import (
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"
)

// CacheTTL is how long the kernel may cache attributes and directory entries
// before asking us again. Metadata lives in a local SQLite file and can
// change out from under the kernel's cache at any time (another process
// editing fs.db directly, or a future networked-metadata backend), so the
// window is kept short rather than the minute-long TTL a purely local
// filesystem could get away with.
const CacheTTL = 64 * time.Millisecond

// Permissions is the fixed mode bits applied to every node, directory or
// file alike; the filesystem has no per-node permission model.
const Permissions = 0777

// Now returns the current time rounded to the second, matching the
// granularity FUSE attribute timestamps are compared at.
func Now() time.Time {
	return time.Now().Round(time.Second)
}

// Expiration returns the instant at which kernel-cached attributes derived
// from data read right now should be considered stale.
func Expiration() time.Time {
	return time.Now().Add(CacheTTL)
}

// FromUnix converts a seconds-since-epoch value, as stored in metadata, to a
// time.Time.
func FromUnix(seconds float64) time.Time {
	return time.Unix(0, int64(seconds*float64(time.Second)))
}

// ToUnix converts a time.Time to the seconds-since-epoch representation
// metadata rows are stored with.
func ToUnix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Attributes builds a fuseops.InodeAttributes for a node given its size and
// directory-ness. Every node is owned by uid/gid 0 and carries the fixed
// Permissions mode, and ctime/mtime/crtime all collapse to the single ctime
// value metadata tracks.
func Attributes(size uint64, isDir bool, ctime, atime time.Time) fuseops.InodeAttributes {
	mode := os.FileMode(Permissions)
	if isDir {
		mode |= os.ModeDir
	}

	return fuseops.InodeAttributes{
		Size:   size,
		Nlink:  1,
		Mode:   mode,
		Atime:  atime,
		Mtime:  ctime,
		Ctime:  ctime,
		Crtime: ctime,
	}
}
