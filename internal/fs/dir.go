package fs

import (
	"context"

	"cachefs/internal/logging"
	"cachefs/internal/memfs"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir represents a directory in the cache filesystem. It holds the session
// node rather than a path so that it stays valid across renames.
type Dir struct {
	fs   *CacheFS
	node *memfs.Node
}

// path returns where the directory currently lives.
func (d *Dir) path() (string, error) {
	return d.fs.session.PathOf(d.node)
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	d.fs.fillAttr(d.node.Stat(), a)
	return nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q", name)

	child, err := d.fs.session.LookupChild(d.node, name)
	if err != nil {
		dirLogger.Trace("Lookup of %q failed: %v", name, err)
		return nil, ToFuseError(err)
	}
	return d.fs.wrap(child), nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirPath, err := d.path()
	if err != nil {
		return nil, ToFuseError(err)
	}
	dirLogger.Debug("Reading directory contents: %q", dirPath)

	listing, err := d.fs.session.Readdir(dirPath)
	if err != nil {
		dirLogger.Warn("Readdir of %q failed: %v", dirPath, err)
		return nil, ToFuseError(err)
	}

	entries := make([]fuse.Dirent, 0, len(listing))
	for _, entry := range listing {
		entryType := fuse.DT_File
		if entry.IsDir {
			entryType = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{Name: entry.Name, Type: entryType})
	}

	dirLogger.Debug("Directory %q contains %d entries", dirPath, len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface, creating a new directory.
func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	dirPath, err := d.path()
	if err != nil {
		return nil, ToFuseError(err)
	}
	newPath := memfs.ChildPath(dirPath, req.Name)
	dirLogger.Info("Creating directory %q", newPath)

	if err := d.fs.session.Mkdir(newPath, req.Mode&^req.Umask); err != nil {
		dirLogger.Warn("Mkdir %q failed: %v", newPath, err)
		return nil, ToFuseError(err)
	}
	child, err := d.fs.session.Lookup(newPath)
	if err != nil {
		return nil, ToFuseError(err)
	}
	return d.fs.wrap(child), nil
}

// Create implements the NodeCreater interface, creating and opening a file.
func (d *Dir) Create(_ context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	dirPath, err := d.path()
	if err != nil {
		return nil, nil, ToFuseError(err)
	}
	newPath := memfs.ChildPath(dirPath, req.Name)
	dirLogger.Info("Creating file %q (flags=%v)", newPath, req.Flags)

	fh, err := d.fs.session.Open(newPath, int(req.Flags)|int(fuse.OpenCreate), req.Mode&^req.Umask)
	if err != nil {
		dirLogger.Warn("Create %q failed: %v", newPath, err)
		return nil, nil, ToFuseError(err)
	}
	child, err := d.fs.session.HandleNode(fh)
	if err != nil {
		return nil, nil, ToFuseError(err)
	}

	resp.Flags |= fuse.OpenDirectIO
	return &File{fs: d.fs, node: child}, &FileHandle{fs: d.fs, fh: fh}, nil
}

// Remove implements the NodeRemover interface, removing a file or directory.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	dirPath, err := d.path()
	if err != nil {
		return ToFuseError(err)
	}
	childPath := memfs.ChildPath(dirPath, req.Name)
	dirLogger.Info("Removing %q (isDir=%v)", childPath, req.Dir)

	if req.Dir {
		err = d.fs.session.Rmdir(childPath)
	} else {
		err = d.fs.session.Unlink(childPath)
	}
	if err != nil {
		dirLogger.Warn("Remove %q failed: %v", childPath, err)
		return ToFuseError(err)
	}
	return nil
}

// Rename implements the NodeRenamer interface, renaming/moving a file or directory.
func (d *Dir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		dirLogger.Error("Rename target is not a directory")
		return ToFuseError(memfs.ErrInvalid)
	}

	fromDir, err := d.path()
	if err != nil {
		return ToFuseError(err)
	}
	toDir, err := target.path()
	if err != nil {
		return ToFuseError(err)
	}

	oldPath := memfs.ChildPath(fromDir, req.OldName)
	newPath := memfs.ChildPath(toDir, req.NewName)
	dirLogger.Info("Renaming %q to %q", oldPath, newPath)

	if err := d.fs.session.Rename(oldPath, newPath); err != nil {
		dirLogger.Warn("Rename %q to %q failed: %v", oldPath, newPath, err)
		return ToFuseError(err)
	}
	return nil
}

// Setattr implements the NodeSetattrer interface for directories.
func (d *Dir) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return setattr(d.fs, d.node, req, resp)
}
