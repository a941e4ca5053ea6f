package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/systemshift/partstore/internal/dag"
)

// CommitsDir lists every commit of a partition by sum.
type CommitsDir struct {
	fs.Inode
	part *dag.Partition
	path string
}

var _ = (fs.NodeLookuper)((*CommitsDir)(nil))
var _ = (fs.NodeReaddirer)((*CommitsDir)(nil))
var _ = (fs.NodeGetattrer)((*CommitsDir)(nil))

func (d *CommitsDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno(d.path)
	return fs.OK
}

func (d *CommitsDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	commits := d.part.Graph().Commits()
	entries := make([]fuse.DirEntry, len(commits))
	for i, c := range commits {
		name := c.ID.String()
		entries[i] = fuse.DirEntry{
			Name: name,
			Mode: syscall.S_IFDIR,
			Ino:  stableIno(d.path + "/" + name),
		}
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *CommitsDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	id, err := dag.ParseSum(name)
	if err != nil || id.String() != name {
		return nil, syscall.ENOENT
	}
	c, ok := d.part.Graph().Get(id)
	if !ok {
		return nil, syscall.ENOENT
	}
	path := d.path + "/" + name
	dir := &CommitDir{part: d.part, commit: c, path: path}
	return d.NewInode(ctx, dir, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: stableIno(path)}), fs.OK
}

// CommitDir is commits/<sum>. Contains: parents, info.json, changes.json,
// elements/
type CommitDir struct {
	fs.Inode
	part   *dag.Partition
	commit *dag.Commit
	path   string
}

var _ = (fs.NodeLookuper)((*CommitDir)(nil))
var _ = (fs.NodeReaddirer)((*CommitDir)(nil))
var _ = (fs.NodeGetattrer)((*CommitDir)(nil))

func (d *CommitDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno(d.path)
	out.SetTimes(nil, &d.commit.Timestamp, nil)
	return fs.OK
}

func (d *CommitDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries := []fuse.DirEntry{
		{Name: "parents", Mode: syscall.S_IFREG, Ino: stableIno(d.path + "/parents")},
		{Name: "info.json", Mode: syscall.S_IFREG, Ino: stableIno(d.path + "/info.json")},
		{Name: "changes.json", Mode: syscall.S_IFREG, Ino: stableIno(d.path + "/changes.json")},
		{Name: "elements", Mode: syscall.S_IFDIR, Ino: stableIno(d.path + "/elements")},
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *CommitDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path := d.path + "/" + name
	var data []byte
	switch name {
	case "parents":
		data = sumLines(d.commit.Parents)
	case "info.json":
		data = renderInfo(d.commit)
	case "changes.json":
		data = renderChanges(d.commit)
	case "elements":
		dir := &ElementsDir{part: d.part, commit: d.commit, path: path}
		return d.NewInode(ctx, dir, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: stableIno(path)}), fs.OK
	default:
		return nil, syscall.ENOENT
	}
	return d.NewInode(ctx, staticFile(path, data), fs.StableAttr{Mode: syscall.S_IFREG, Ino: stableIno(path)}), fs.OK
}

// ElementsDir lists the elements of the state a commit produces.
type ElementsDir struct {
	fs.Inode
	part   *dag.Partition
	commit *dag.Commit
	path   string
}

var _ = (fs.NodeLookuper)((*ElementsDir)(nil))
var _ = (fs.NodeReaddirer)((*ElementsDir)(nil))
var _ = (fs.NodeGetattrer)((*ElementsDir)(nil))

func (d *ElementsDir) state(ctx context.Context) (*dag.State, syscall.Errno) {
	s, err := d.part.Graph().StateAtContext(ctx, d.commit.ID)
	if err != nil {
		return nil, syscall.EIO
	}
	return s, fs.OK
}

func (d *ElementsDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno(d.path)
	return fs.OK
}

func (d *ElementsDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	s, errno := d.state(ctx)
	if errno != fs.OK {
		return nil, errno
	}
	ids := s.IDs()
	entries := make([]fuse.DirEntry, len(ids))
	for i, id := range ids {
		name := entryName(id)
		entries[i] = fuse.DirEntry{
			Name: name,
			Mode: syscall.S_IFDIR,
			Ino:  stableIno(d.path + "/" + name),
		}
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *ElementsDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	id, ok := elementID(name)
	if !ok {
		return nil, syscall.ENOENT
	}
	s, errno := d.state(ctx)
	if errno != fs.OK {
		return nil, errno
	}
	e, ok := s.Get(id)
	if !ok {
		return nil, syscall.ENOENT
	}
	path := d.path + "/" + name
	dir := &ElementDir{elt: e, path: path}
	return d.NewInode(ctx, dir, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: stableIno(path)}), fs.OK
}

// ElementDir is elements/<id>. Contains: payload, meta.json, and
// candidates.json for a conflicted element.
type ElementDir struct {
	fs.Inode
	elt  dag.Element
	path string
}

var _ = (fs.NodeLookuper)((*ElementDir)(nil))
var _ = (fs.NodeReaddirer)((*ElementDir)(nil))
var _ = (fs.NodeGetattrer)((*ElementDir)(nil))

func (d *ElementDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0555
	out.Ino = stableIno(d.path)
	return fs.OK
}

func (d *ElementDir) names() []string {
	if d.elt.Conflicted() {
		return []string{"candidates.json", "meta.json", "payload"}
	}
	return []string{"meta.json", "payload"}
}

func (d *ElementDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names := d.names()
	entries := make([]fuse.DirEntry, len(names))
	for i, name := range names {
		entries[i] = fuse.DirEntry{Name: name, Mode: syscall.S_IFREG, Ino: stableIno(d.path + "/" + name)}
	}
	return fs.NewListDirStream(entries), fs.OK
}

func (d *ElementDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	var data []byte
	switch name {
	case "payload":
		data = d.elt.Payload
	case "meta.json":
		data = renderMeta(d.elt)
	case "candidates.json":
		if !d.elt.Conflicted() {
			return nil, syscall.ENOENT
		}
		data = indented(d.elt.Candidates)
	default:
		return nil, syscall.ENOENT
	}
	path := d.path + "/" + name
	return d.NewInode(ctx, staticFile(path, data), fs.StableAttr{Mode: syscall.S_IFREG, Ino: stableIno(path)}), fs.OK
}
