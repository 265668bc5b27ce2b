package memfs

import (
	"os"
	"sync"
	"time"

	"github.com/tidwall/btree"
)

// DirSize is the nominal size reported for every directory.
const DirSize = 4096

// MaxFileSize bounds the logical size of a regular file.
const MaxFileSize int64 = 1 << 40

// Attrs is a snapshot of a node's metadata.
type Attrs struct {
	Size  int64
	Mode  os.FileMode
	Ctime time.Time
	Mtime time.Time
	Atime time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a Attrs) IsDir() bool {
	return a.Mode.IsDir()
}

// Node is the in-memory state of one file or directory. Everything except
// name and isDir is guarded by mu; isDir never changes, and name changes
// only in Rename while the parent directory's lock is held, so it is read
// under that lock.
//
// For regular files len(data) is the buffer capacity, and data[size:] is
// always zero so that growing the logical size never exposes stale bytes.
type Node struct {
	mu sync.RWMutex

	name  string
	isDir bool

	mode  os.FileMode
	size  int64
	data  []byte
	ctime time.Time
	mtime time.Time
	atime time.Time
	dirty bool

	// directories only
	initialized bool
	children    *btree.Map[string, struct{}]
	origin      string
}

func newFileNode(name string, perm os.FileMode, now time.Time) *Node {
	return &Node{
		name:  name,
		mode:  perm.Perm(),
		ctime: now,
		mtime: now,
		atime: now,
	}
}

// newDirNode creates a directory. Directories created in the cache have no
// backing counterpart and start initialized; directories discovered in the
// backing store start uninitialized and remember where to load from.
func newDirNode(name string, perm os.FileMode, now time.Time, origin string) *Node {
	return &Node{
		name:        name,
		isDir:       true,
		mode:        os.ModeDir | perm.Perm(),
		ctime:       now,
		mtime:       now,
		atime:       now,
		initialized: origin == "",
		origin:      origin,
	}
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n.isDir
}

// Stat returns the node's attributes. Directories report DirSize.
func (n *Node) Stat() Attrs {
	n.mu.RLock()
	defer n.mu.RUnlock()

	size := n.size
	if n.isDir {
		size = DirSize
	}
	return Attrs{
		Size:  size,
		Mode:  n.mode,
		Ctime: n.ctime,
		Mtime: n.mtime,
		Atime: n.atime,
	}
}

// ReadAt returns up to length bytes starting at offset. Reading at or past
// the end yields an empty slice.
func (n *Node) ReadAt(offset int64, length int) ([]byte, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if offset < 0 || length < 0 {
		return nil, ErrInvalid
	}
	if offset >= n.size {
		return []byte{}, nil
	}
	if n.data == nil {
		return nil, ErrIO
	}

	end := n.size
	if int64(length) < end-offset {
		end = offset + int64(length)
	}
	out := make([]byte, end-offset)
	copy(out, n.data[offset:end])
	return out, nil
}

// WriteAt copies p into the buffer at offset, growing it as needed, and
// returns the number of bytes written.
func (n *Node) WriteAt(offset int64, p []byte) (int, error) {
	if offset < 0 {
		return 0, ErrInvalid
	}
	if len(p) == 0 {
		return 0, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.writeLocked(offset, p)
}

// Append writes p at the current end of the file. The offset is taken
// under the same lock as the write, so concurrent appends never overlap.
func (n *Node) Append(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.writeLocked(n.size, p)
}

func (n *Node) writeLocked(offset int64, p []byte) (int, error) {
	if offset > MaxFileSize-int64(len(p)) {
		return 0, ErrTooLarge
	}

	end := offset + int64(len(p))
	n.ensureCapacity(end)
	copy(n.data[offset:end], p)
	if end > n.size {
		n.size = end
	}
	n.dirty = true
	n.mtime = time.Now()
	return len(p), nil
}

// Truncate sets the logical size. Capacity is never released.
func (n *Node) Truncate(size int64) error {
	if size < 0 {
		return ErrInvalid
	}
	if size > MaxFileSize {
		return ErrTooLarge
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.isDir {
		return ErrIsDir
	}
	switch {
	case size < n.size:
		clear(n.data[size:n.size])
	case size > n.size:
		n.ensureCapacity(size)
	}
	n.size = size
	n.dirty = true
	n.mtime = time.Now()
	return nil
}

// SetTimes updates access and modification times.
func (n *Node) SetTimes(atime, mtime time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.atime = atime
	n.mtime = mtime
}

// Chmod replaces the permission bits, keeping the type bits.
func (n *Node) Chmod(perm os.FileMode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mode = n.mode&^os.ModePerm | perm.Perm()
	n.ctime = time.Now()
}

// Capacity returns the size of the allocated buffer.
func (n *Node) Capacity() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.data)
}

// Dirty reports whether the node has unflushed content.
func (n *Node) Dirty() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.dirty
}

// Initialized reports whether a directory has been populated.
func (n *Node) Initialized() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.initialized
}

func newChildSet() *btree.Map[string, struct{}] {
	return btree.NewMap[string, struct{}](0)
}

// The helpers below require n.mu to be held exclusively.

func (n *Node) addChild(name string) {
	if n.children == nil {
		n.children = newChildSet()
	}
	n.children.Set(name, struct{}{})
	n.mtime = time.Now()
}

func (n *Node) removeChild(name string) {
	if n.children == nil {
		return
	}
	n.children.Delete(name)
	n.mtime = time.Now()
}

// The helpers below require n.mu to be held in either mode.

func (n *Node) hasChild(name string) bool {
	if n.children == nil {
		return false
	}
	_, ok := n.children.Get(name)
	return ok
}

func (n *Node) childCount() int {
	if n.children == nil {
		return 0
	}
	return n.children.Len()
}

func (n *Node) childNames() []string {
	if n.children == nil {
		return nil
	}
	names := make([]string, 0, n.children.Len())
	n.children.Scan(func(name string, _ struct{}) bool {
		names = append(names, name)
		return true
	})
	return names
}
