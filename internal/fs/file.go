package fs

import (
	"context"
	"time"

	"cachefs/internal/logging"
	"cachefs/internal/memfs"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File represents a regular file in the cache filesystem. Like Dir it
// holds the session node, so renames and unlinks do not invalidate it.
type File struct {
	fs   *CacheFS
	node *memfs.Node
}

// Attr implements the Node interface, returning the file's attributes.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	f.fs.fillAttr(f.node.Stat(), a)

	fileLogger.Trace("File attributes: mode=%v, size=%d, mtime=%v",
		a.Mode, a.Size, a.Mtime)
	return nil
}

// Open implements the NodeOpener interface, allocating a session handle.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	fileLogger.Debug("Opening file with flags %v", req.Flags)

	fh, err := f.fs.session.OpenNode(f.node, int(req.Flags))
	if err != nil {
		fileLogger.Warn("Open failed: %v", err)
		return nil, ToFuseError(err)
	}

	// Content lives only in the session; bypass the kernel page cache.
	resp.Flags |= fuse.OpenDirectIO

	fileLogger.Debug("Opened handle %d", fh)
	return &FileHandle{fs: f.fs, fh: fh}, nil
}

// Setattr implements the NodeSetattrer interface (truncate, chmod, utimens).
func (f *File) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return setattr(f.fs, f.node, req, resp)
}

// Fsync implements the NodeFsyncer interface, writing the file back now.
func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	if err := f.fs.session.FsyncNode(f.node); err != nil {
		fileLogger.Error("Fsync failed: %v", err)
		return ToFuseError(err)
	}
	return nil
}

// setattr applies the valid fields of req to n and reports the result.
func setattr(cfs *CacheFS, n *memfs.Node, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	fileLogger.Debug("Setattr (valid=%v)", req.Valid)

	if req.Valid.Size() {
		if err := n.Truncate(safeUint64ToInt64(req.Size)); err != nil {
			return ToFuseError(err)
		}
	}
	if req.Valid.Mode() {
		n.Chmod(req.Mode)
	}
	if req.Valid.Atime() || req.Valid.Mtime() || req.Valid.AtimeNow() || req.Valid.MtimeNow() {
		current := n.Stat()
		now := time.Now()
		atime, mtime := current.Atime, current.Mtime
		switch {
		case req.Valid.AtimeNow():
			atime = now
		case req.Valid.Atime():
			atime = req.Atime
		}
		switch {
		case req.Valid.MtimeNow():
			mtime = now
		case req.Valid.Mtime():
			mtime = req.Mtime
		}
		n.SetTimes(atime, mtime)
	}

	cfs.fillAttr(n.Stat(), &resp.Attr)
	return nil
}

// FileHandle is an open session handle on a file.
type FileHandle struct {
	fs *CacheFS
	fh uint64
}

// Read implements the HandleReader interface, reading data from the file.
func (h *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fileLogger.Trace("Reading %d bytes from handle %d at offset %d", req.Size, h.fh, req.Offset)

	data, err := h.fs.session.Read(h.fh, req.Offset, req.Size)
	if err != nil {
		fileLogger.Error("Failed to read from handle %d: %v", h.fh, err)
		return ToFuseError(err)
	}

	resp.Data = data
	fileLogger.Trace("Successfully read %d bytes", len(data))
	return nil
}

// Write implements the HandleWriter interface, writing data into the cache.
func (h *FileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fileLogger.Trace("Writing %d bytes to handle %d at offset %d", len(req.Data), h.fh, req.Offset)

	n, err := h.fs.session.Write(h.fh, req.Offset, req.Data)
	if err != nil {
		fileLogger.Error("Failed to write to handle %d: %v", h.fh, err)
		return ToFuseError(err)
	}

	resp.Size = n
	return nil
}

// Flush implements the HandleFlusher interface.
func (h *FileHandle) Flush(_ context.Context, _ *fuse.FlushRequest) error {
	return ToFuseError(h.fs.session.Flush(h.fh))
}

// Release implements the HandleReleaser interface, freeing the handle.
func (h *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fileLogger.Debug("Releasing handle %d", h.fh)
	return ToFuseError(h.fs.session.Release(h.fh))
}
