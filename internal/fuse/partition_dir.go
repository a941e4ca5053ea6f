package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/systemshift/partstore/internal/dag"
	"github.com/systemshift/partstore/internal/store"
)

// PartitionDir is /<partition>. Layout: tips, head (only with a single
// tip), commits/.
type PartitionDir struct {
	fs.Inode
	repo *store.Repository
	name string
}

var _ = (fs.NodeLookuper)((*PartitionDir)(nil))
var _ = (fs.NodeReaddirer)((*PartitionDir)(nil))
var _ = (fs.NodeGetattrer)((*PartitionDir)(nil))

func (d *PartitionDir) tipIDs() ([]dag.Sum, syscall.Errno) {
	p, err := d.repo.Partition(d.name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	return p.Graph().TipIDs(), fs.OK
}

func (d *PartitionDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno(d.name)
	return fs.OK
}

func (d *PartitionDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	tips, errno := d.tipIDs()
	if errno != fs.OK {
		return nil, errno
	}
	entries := []fuse.DirEntry{
		{Name: "tips", Mode: syscall.S_IFREG, Ino: stableIno(d.name + "/tips")},
		{Name: "commits", Mode: syscall.S_IFDIR, Ino: stableIno(d.name + "/commits")},
	}
	if _, ok := headTarget(tips); ok {
		entries = append(entries, fuse.DirEntry{Name: "head", Mode: syscall.S_IFLNK, Ino: stableIno(d.name + "/head")})
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *PartitionDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path := d.name + "/" + name
	switch name {
	case "tips":
		f := &bytesFile{path: path, load: func() ([]byte, syscall.Errno) {
			tips, errno := d.tipIDs()
			return sumLines(tips), errno
		}}
		return d.NewInode(ctx, f, fs.StableAttr{Mode: syscall.S_IFREG, Ino: stableIno(path)}), fs.OK

	case "head":
		tips, errno := d.tipIDs()
		if errno != fs.OK {
			return nil, errno
		}
		target, ok := headTarget(tips)
		if !ok {
			return nil, syscall.ENOENT
		}
		// The target changes with every commit, so the inode is keyed on it.
		sym := &Symlink{target: target}
		return d.NewInode(ctx, sym, fs.StableAttr{Mode: syscall.S_IFLNK, Ino: stableIno(path + "@" + target)}), fs.OK

	case "commits":
		p, err := d.repo.Partition(d.name)
		if err != nil {
			return nil, syscall.ENOENT
		}
		dir := &CommitsDir{part: p, path: path}
		return d.NewInode(ctx, dir, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: stableIno(path)}), fs.OK

	default:
		return nil, syscall.ENOENT
	}
}

// Symlink is a read-only symbolic link.
type Symlink struct {
	fs.Inode
	target string
}

var _ = (fs.NodeReadlinker)((*Symlink)(nil))
var _ = (fs.NodeGetattrer)((*Symlink)(nil))

func (s *Symlink) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	return []byte(s.target), fs.OK
}

func (s *Symlink) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0777 | syscall.S_IFLNK
	out.Size = uint64(len(s.target))
	return fs.OK
}

// bytesFile is a read-only file whose content is rendered on each access.
type bytesFile struct {
	fs.Inode
	path string
	load func() ([]byte, syscall.Errno)
}

var _ = (fs.NodeGetattrer)((*bytesFile)(nil))
var _ = (fs.NodeOpener)((*bytesFile)(nil))
var _ = (fs.NodeReader)((*bytesFile)(nil))

func (f *bytesFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	data, errno := f.load()
	if errno != fs.OK {
		return errno
	}
	out.Mode = 0444
	out.Size = uint64(len(data))
	out.Ino = stableIno(f.path)
	return fs.OK
}

func (f *bytesFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_DIRECT_IO, fs.OK
}

func (f *bytesFile) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, errno := f.load()
	if errno != fs.OK {
		return nil, errno
	}
	return fuse.ReadResultData(window(data, dest, off)), fs.OK
}

func window(data, dest []byte, off int64) []byte {
	if off >= int64(len(data)) {
		return nil
	}
	end := min(off+int64(len(dest)), int64(len(data)))
	return data[off:end]
}

func staticFile(path string, data []byte) *bytesFile {
	return &bytesFile{path: path, load: func() ([]byte, syscall.Errno) { return data, fs.OK }}
}
