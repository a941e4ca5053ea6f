package fuse

import "github.com/cespare/xxhash/v2"

// stableIno returns a stable inode number for a path inside the mount.
func stableIno(path string) uint64 {
	return xxhash.Sum64String(path)
}
