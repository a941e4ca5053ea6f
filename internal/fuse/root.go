package fuse

import (
	"context"
	"errors"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"

	"github.com/systemshift/partstore/internal/store"
)

// RootNode is the mountpoint directory. It holds one directory per partition.
type RootNode struct {
	fs.Inode
	repo *store.Repository
	log  logrus.FieldLogger
}

var _ = (fs.NodeLookuper)((*RootNode)(nil))
var _ = (fs.NodeReaddirer)((*RootNode)(nil))
var _ = (fs.NodeGetattrer)((*RootNode)(nil))

func (r *RootNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno("/")
	return fs.OK
}

func (r *RootNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, err := r.repo.Partitions()
	if err != nil {
		r.log.WithError(err).Warn("list partitions")
		return nil, syscall.EIO
	}
	entries := make([]fuse.DirEntry, len(names))
	for i, name := range names {
		entries[i] = fuse.DirEntry{
			Name: name,
			Mode: syscall.S_IFDIR,
			Ino:  stableIno(name),
		}
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (r *RootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if !store.ValidName(name) {
		return nil, syscall.ENOENT
	}
	if _, err := r.repo.Partition(name); err != nil {
		if !errors.Is(err, store.ErrNoPartition) {
			r.log.WithError(err).WithField("partition", name).Warn("load partition")
			return nil, syscall.EIO
		}
		return nil, syscall.ENOENT
	}
	dir := &PartitionDir{repo: r.repo, name: name}
	return r.NewInode(ctx, dir, fs.StableAttr{
		Mode: syscall.S_IFDIR,
		Ino:  stableIno(name),
	}), fs.OK
}
