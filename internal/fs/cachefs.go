// Package fs exposes a memfs.Session to the kernel through bazil.org/fuse.
package fs

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"cachefs/internal/logging"
	"cachefs/internal/memfs"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

// CacheFS is the FUSE front end of a cache session. Each kernel node wraps
// a session node and every request is forwarded to the session.
type CacheFS struct {
	session *memfs.Session
	conn    *fuse.Conn
	uid     uint32 // User ID reported for every node
	gid     uint32 // Group ID reported for every node
	mu      sync.Mutex
}

// NewCacheFS wraps session for mounting.
func NewCacheFS(session *memfs.Session) *CacheFS {
	vfsLogger.Info("Creating cache filesystem")

	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			vfsLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			vfsLogger.Debug("Using PGID from environment: %d", gid)
		}
	}

	return &CacheFS{
		session: session,
		uid:     uid,
		gid:     gid,
	}
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (cfs *CacheFS) Root() (fusefs.Node, error) {
	vfsLogger.Trace("Getting root directory node")
	return &Dir{fs: cfs, node: cfs.session.Root()}, nil
}

// wrap returns the bridge node for a session node.
func (cfs *CacheFS) wrap(n *memfs.Node) fusefs.Node {
	if n.IsDir() {
		return &Dir{fs: cfs, node: n}
	}
	return &File{fs: cfs, node: n}
}

// fillAttr copies session attributes into a FUSE attribute block.
func (cfs *CacheFS) fillAttr(attrs memfs.Attrs, a *fuse.Attr) {
	a.Mode = attrs.Mode
	a.Size = safeInt64ToUint64(attrs.Size)
	a.Mtime = attrs.Mtime
	a.Atime = attrs.Atime
	a.Ctime = attrs.Ctime
	a.Uid = cfs.uid
	a.Gid = cfs.gid
	a.BlockSize = 4096
	a.Blocks = safeInt64ToUint64((attrs.Size + 511) / 512)
	a.Nlink = 1
	if attrs.IsDir() {
		a.Nlink = 2
	}
}

// Options configures Mount.
type Options struct {
	AllowOther bool
}

// Mount attaches the filesystem to mountPoint. Serve must be called to
// answer requests.
func (cfs *CacheFS) Mount(mountPoint string, opts Options) error {
	vfsLogger.Info("Mounting cache filesystem at %s", mountPoint)
	vfsLogger.Debug("UID: %d, GID: %d", cfs.uid, cfs.gid)

	mountOpts := []fuse.MountOption{
		fuse.FSName("cachefs"),
		fuse.Subtype("cachefs"),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
	}
	if opts.AllowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}

	cfs.mu.Lock()
	cfs.conn = c
	cfs.mu.Unlock()

	vfsLogger.Info("Filesystem mounted successfully")
	return nil
}

// Serve answers kernel requests until the filesystem is unmounted, then
// closes the connection.
func (cfs *CacheFS) Serve() error {
	cfs.mu.Lock()
	c := cfs.conn
	cfs.mu.Unlock()
	if c == nil {
		return fmt.Errorf("filesystem is not mounted")
	}

	start := time.Now()
	err := fusefs.Serve(c, cfs)
	vfsLogger.Debug("FUSE server stopped after %v", time.Since(start))

	cfs.mu.Lock()
	if closeErr := c.Close(); closeErr != nil {
		vfsLogger.Warn("Closing FUSE connection: %v", closeErr)
	}
	cfs.conn = nil
	cfs.mu.Unlock()
	return err
}

// Unmount detaches the filesystem. A running Serve returns afterwards.
func (cfs *CacheFS) Unmount(mountPoint string) error {
	vfsLogger.Info("Unmounting filesystem from: %s", mountPoint)

	cfs.mu.Lock()
	mounted := cfs.conn != nil
	cfs.mu.Unlock()
	if !mounted {
		return nil
	}

	if err := fuse.Unmount(mountPoint); err != nil {
		vfsLogger.Error("Unmount failed: %v", err)
		return err
	}
	vfsLogger.Info("Unmount completed successfully")
	return nil
}
