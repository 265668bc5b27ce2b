// Package memfs implements the memory-resident file store behind cachefs:
// a path-indexed tree of nodes populated lazily from a backing store,
// served from growable in-memory buffers, and written back by a periodic
// flusher.
package memfs

import (
	"errors"
	"os"
	"sort"
	"time"

	"github.com/spf13/afero"

	"cachefs/internal/logging"
)

var sessionLogger = logging.GetLogger().WithPrefix("session")

// DirEntry is one line of a directory listing.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Session is the state of one mount: the path store, the handle table and
// the backing store they mirror. It is created at mount time and dropped
// at unmount.
type Session struct {
	backing afero.Fs
	store   *Store
	loader  *Loader
	handles *HandleTable
}

// NewSession creates a session mirroring backing. The root directory is
// populated on first traversal.
func NewSession(backing afero.Fs) *Session {
	root := newDirNode(RootPath, 0o755, time.Now(), RootPath)
	if info, err := backing.Stat(RootPath); err == nil {
		root.mode = os.ModeDir | info.Mode().Perm()
		root.mtime = info.ModTime()
		root.ctime = info.ModTime()
	}

	store := NewStore(root)
	return &Session{
		backing: backing,
		store:   store,
		loader:  NewLoader(backing, store),
		handles: NewHandleTable(),
	}
}

// Root returns the root directory node.
func (s *Session) Root() *Node {
	root, _ := s.store.Lookup(RootPath)
	return root
}

// PathOf returns the path n is currently reachable under. Nodes keep their
// identity across renames, so the kernel bridge addresses them by node and
// asks for the path only when an operation needs one.
func (s *Session) PathOf(n *Node) (string, error) {
	p, ok := s.store.PathOf(n)
	if !ok {
		return "", newError(OpLookup, "", ErrNotFound)
	}
	return p, nil
}

// Lookup resolves p to its node, populating the directories on the way.
func (s *Session) Lookup(p string) (*Node, error) {
	_, n, err := s.resolve(OpLookup, p)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// LookupChild resolves name inside dir.
func (s *Session) LookupChild(dir *Node, name string) (*Node, error) {
	dirPath, err := s.PathOf(dir)
	if err != nil {
		return nil, err
	}
	return s.Lookup(ChildPath(dirPath, name))
}

// resolve canonicalizes p, populates every directory on the way to it, and
// returns its node.
func (s *Session) resolve(op, p string) (string, *Node, error) {
	p = CleanPath(p)
	for _, dirPath := range ancestors(p) {
		dir, ok := s.store.Lookup(dirPath)
		if !ok {
			return p, nil, newError(op, p, ErrNotFound)
		}
		if !dir.isDir {
			return p, nil, newError(op, p, ErrNotDir)
		}
		if err := s.loader.Populate(dirPath, dir); err != nil {
			return p, nil, newError(op, p, err)
		}
	}

	n, ok := s.store.Lookup(p)
	if !ok {
		return p, nil, newError(op, p, ErrNotFound)
	}
	return p, n, nil
}

// resolveDir resolves p and requires it to be a populated directory.
func (s *Session) resolveDir(op, p string) (string, *Node, error) {
	p, n, err := s.resolve(op, p)
	if err != nil {
		return p, nil, err
	}
	if !n.isDir {
		return p, nil, newError(op, p, ErrNotDir)
	}
	if err := s.loader.Populate(p, n); err != nil {
		return p, nil, newError(op, p, err)
	}
	return p, n, nil
}

// insertChild adds n under p. The parent's lock is taken before the
// structural lock, and the parent is checked to still be stored under its
// path so a concurrent rmdir or rename cannot leave an orphan behind.
func (s *Session) insertChild(op, p string, n *Node) (*Node, error) {
	if p == RootPath {
		return nil, newError(op, p, ErrExist)
	}
	parentPath, parent, err := s.resolveDir(op, ParentPath(p))
	if err != nil {
		return nil, err
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()

	s.store.mu.Lock()
	if !s.store.holdsLocked(parentPath, parent) {
		s.store.mu.Unlock()
		return nil, newError(op, p, ErrNotFound)
	}
	if existing, ok := s.store.nodes[p]; ok {
		s.store.mu.Unlock()
		return existing, newError(op, p, ErrExist)
	}
	s.store.insertLocked(p, n)
	s.store.mu.Unlock()

	parent.addChild(n.name)
	return n, nil
}

// Getattr returns the attributes of p.
func (s *Session) Getattr(p string) (Attrs, error) {
	_, n, err := s.resolve(OpGetattr, p)
	if err != nil {
		return Attrs{}, err
	}
	return n.Stat(), nil
}

// Readdir lists p: ".", ".." unless p is the root, then each live child in
// name order. The first listing of a directory populates it.
func (s *Session) Readdir(p string) ([]DirEntry, error) {
	p, dir, err := s.resolveDir(OpReaddir, p)
	if err != nil {
		return nil, err
	}

	dir.mu.RLock()
	names := dir.childNames()
	dir.mu.RUnlock()

	entries := make([]DirEntry, 0, len(names)+2)
	entries = append(entries, DirEntry{Name: ".", IsDir: true})
	if p != RootPath {
		entries = append(entries, DirEntry{Name: "..", IsDir: true})
	}

	s.store.mu.RLock()
	for _, name := range names {
		child, ok := s.store.nodes[ChildPath(p, name)]
		if !ok {
			continue
		}
		entries = append(entries, DirEntry{Name: name, IsDir: child.isDir})
	}
	s.store.mu.RUnlock()

	sessionLogger.Trace("Listed %q: %d entries", p, len(entries))
	return entries, nil
}

// Mkdir creates an empty directory at p.
func (s *Session) Mkdir(p string, perm os.FileMode) error {
	p = CleanPath(p)
	dir := newDirNode(LeafName(p), perm, time.Now(), "")
	if _, err := s.insertChild(OpMkdir, p, dir); err != nil {
		return err
	}
	sessionLogger.Debug("Created directory %q", p)
	return nil
}

// Rmdir removes the directory at p if it has no children. A directory
// that was never listed is populated first so that entries still only in
// the backing store count.
func (s *Session) Rmdir(p string) error {
	p, dir, err := s.resolve(OpRmdir, p)
	if err != nil {
		return err
	}
	if p == RootPath {
		return newError(OpRmdir, p, ErrInvalid)
	}
	if !dir.isDir {
		return newError(OpRmdir, p, ErrNotDir)
	}
	if err := s.loader.Populate(p, dir); err != nil {
		return newError(OpRmdir, p, err)
	}

	parentPath := ParentPath(p)
	parent, ok := s.store.Lookup(parentPath)
	if !ok {
		return newError(OpRmdir, p, ErrNotFound)
	}

	// parent sorts before child, matching the lexicographic lock order
	parent.mu.Lock()
	defer parent.mu.Unlock()
	dir.mu.Lock()
	defer dir.mu.Unlock()

	if dir.childCount() > 0 {
		return newError(OpRmdir, p, ErrNotEmpty)
	}

	s.store.mu.Lock()
	if !s.store.holdsLocked(p, dir) {
		s.store.mu.Unlock()
		return newError(OpRmdir, p, ErrNotFound)
	}
	s.store.removeLocked(p)
	s.store.mu.Unlock()

	parent.removeChild(dir.name)
	sessionLogger.Debug("Removed directory %q", p)
	return nil
}

// Unlink removes the regular file at p. Handles still open on it keep
// working; the node is simply no longer reachable or flushed.
func (s *Session) Unlink(p string) error {
	p, n, err := s.resolve(OpUnlink, p)
	if err != nil {
		return err
	}
	if n.isDir {
		return newError(OpUnlink, p, ErrIsDir)
	}

	parent, ok := s.store.Lookup(ParentPath(p))
	if !ok {
		return newError(OpUnlink, p, ErrNotFound)
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()

	s.store.mu.Lock()
	if !s.store.holdsLocked(p, n) {
		s.store.mu.Unlock()
		return newError(OpUnlink, p, ErrNotFound)
	}
	s.store.removeLocked(p)
	s.store.mu.Unlock()

	parent.removeChild(n.name)
	sessionLogger.Debug("Unlinked %q", p)
	return nil
}

// Rename moves the node at from to to, re-keying the whole subtree when it
// is a directory. The destination must not exist.
//
// Both parent directories are locked in lexicographic path order before
// the structural lock is taken, and the re-key plus both child-set updates
// happen while all of them are held, so the move is a single step to any
// observer.
func (s *Session) Rename(from, to string) error {
	from, n, err := s.resolve(OpRename, from)
	if err != nil {
		return err
	}
	to = CleanPath(to)
	if to == from {
		return newError(OpRename, to, ErrExist)
	}
	if from == RootPath || to == RootPath || isWithin(to, from) {
		return newError(OpRename, from, ErrInvalid)
	}
	toParentPath, toParent, err := s.resolveDir(OpRename, ParentPath(to))
	if err != nil {
		return err
	}
	fromParentPath := ParentPath(from)
	fromParent, ok := s.store.Lookup(fromParentPath)
	if !ok {
		return newError(OpRename, from, ErrNotFound)
	}

	parents := []struct {
		path string
		node *Node
	}{{fromParentPath, fromParent}, {toParentPath, toParent}}
	sort.Slice(parents, func(i, j int) bool { return parents[i].path < parents[j].path })
	parents[0].node.mu.Lock()
	defer parents[0].node.mu.Unlock()
	if parents[1].node != parents[0].node {
		parents[1].node.mu.Lock()
		defer parents[1].node.mu.Unlock()
	}

	s.store.mu.Lock()
	if !s.store.holdsLocked(from, n) {
		s.store.mu.Unlock()
		return newError(OpRename, from, ErrNotFound)
	}
	if !s.store.holdsLocked(fromParentPath, fromParent) || !s.store.holdsLocked(toParentPath, toParent) {
		s.store.mu.Unlock()
		return newError(OpRename, to, ErrNotFound)
	}
	if _, exists := s.store.nodes[to]; exists {
		s.store.mu.Unlock()
		return newError(OpRename, to, ErrExist)
	}
	moved := s.store.rekeyLocked(from, to)
	s.store.mu.Unlock()

	oldName := n.name
	newName := LeafName(to)
	fromParent.removeChild(oldName)
	n.name = newName
	toParent.addChild(newName)

	sessionLogger.Debug("Renamed %q to %q (%d entries re-keyed)", from, to, moved)
	return nil
}

// Open resolves p, creating a regular file when flags include O_CREATE
// and p is absent, checks the owner mode bits against the access mode, and
// returns a new handle.
func (s *Session) Open(p string, flags int, perm os.FileMode) (uint64, error) {
	p, n, err := s.resolve(OpOpen, p)
	created := false
	switch {
	case err == nil:
		if flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0 {
			return 0, newError(OpOpen, p, ErrExist)
		}
	case flags&os.O_CREATE != 0 && errors.Is(err, ErrNotFound):
		n, err = s.insertChild(OpOpen, p, newFileNode(LeafName(p), perm, time.Now()))
		switch {
		case err == nil:
			created = true
			sessionLogger.Debug("Created file %q", p)
		case n != nil && flags&os.O_EXCL == 0:
			// lost a create race; open what the winner made
		default:
			return 0, err
		}
	default:
		return 0, err
	}

	return s.openNode(p, n, flags, created)
}

// OpenNode opens an already resolved node. The node need not be reachable
// by path any more; an unlinked file can still be opened through a kernel
// reference to it.
func (s *Session) OpenNode(n *Node, flags int) (uint64, error) {
	p, _ := s.store.PathOf(n)
	return s.openNode(p, n, flags&^(os.O_CREATE|os.O_EXCL), false)
}

func (s *Session) openNode(p string, n *Node, flags int, created bool) (uint64, error) {
	h := Handle{flags: flags}
	if n.isDir && h.Writable() {
		return 0, newError(OpOpen, p, ErrIsDir)
	}
	if !created {
		mode := n.Stat().Mode
		if h.Readable() && mode&0o400 == 0 {
			return 0, newError(OpOpen, p, ErrPermission)
		}
		if h.Writable() && mode&0o200 == 0 {
			return 0, newError(OpOpen, p, ErrPermission)
		}
	}
	if flags&os.O_TRUNC != 0 && h.Writable() && !n.isDir {
		if err := n.Truncate(0); err != nil {
			return 0, newError(OpOpen, p, err)
		}
	}

	fh := s.handles.Allocate(n, flags)
	sessionLogger.Trace("Opened %q as handle %d (flags=%#x)", p, fh, flags)
	return fh, nil
}

// Create is Open with O_CREATE|O_RDWR.
func (s *Session) Create(p string, perm os.FileMode) (uint64, error) {
	return s.Open(p, os.O_CREATE|os.O_RDWR, perm)
}

// HandleNode returns the node fh is bound to.
func (s *Session) HandleNode(fh uint64) (*Node, error) {
	h, err := s.handles.Get(fh)
	if err != nil {
		return nil, newError(OpLookup, "", err)
	}
	return h.node, nil
}

// Read returns up to size bytes of the handle's file starting at offset.
func (s *Session) Read(fh uint64, offset int64, size int) ([]byte, error) {
	h, err := s.handles.Get(fh)
	if err != nil || !h.Readable() {
		return nil, newError(OpRead, "", ErrBadHandle)
	}
	data, err := h.node.ReadAt(offset, size)
	if err != nil {
		return nil, newError(OpRead, "", err)
	}
	return data, nil
}

// Write stores data in the handle's file at offset and returns the number
// of bytes written. Handles opened with O_APPEND ignore offset and write at
// the end of the file.
func (s *Session) Write(fh uint64, offset int64, data []byte) (int, error) {
	h, err := s.handles.Get(fh)
	if err != nil || !h.Writable() {
		return 0, newError(OpWrite, "", ErrBadHandle)
	}
	if h.node.isDir {
		return 0, newError(OpWrite, "", ErrIsDir)
	}

	var written int
	if h.flags&os.O_APPEND != 0 {
		written, err = h.node.Append(data)
	} else {
		written, err = h.node.WriteAt(offset, data)
	}
	if err != nil {
		return 0, newError(OpWrite, "", err)
	}
	return written, nil
}

// Utimens sets the access and modification times of p.
func (s *Session) Utimens(p string, atime, mtime time.Time) error {
	_, n, err := s.resolve(OpUtimens, p)
	if err != nil {
		return err
	}
	n.SetTimes(atime, mtime)
	return nil
}

// Truncate sets the size of the regular file at p.
func (s *Session) Truncate(p string, size int64) error {
	p, n, err := s.resolve(OpTruncate, p)
	if err != nil {
		return err
	}
	if err := n.Truncate(size); err != nil {
		return newError(OpTruncate, p, err)
	}
	return nil
}

// Chmod replaces the permission bits of p.
func (s *Session) Chmod(p string, perm os.FileMode) error {
	_, n, err := s.resolve(OpChmod, p)
	if err != nil {
		return err
	}
	n.Chmod(perm)
	return nil
}

// Flush validates fh. Write-back is left to the flusher.
func (s *Session) Flush(fh uint64) error {
	if _, err := s.handles.Get(fh); err != nil {
		return newError(OpFlush, "", err)
	}
	return nil
}

// Fsync writes the handle's file back to the backing store now.
func (s *Session) Fsync(fh uint64) error {
	h, err := s.handles.Get(fh)
	if err != nil {
		return newError(OpFsync, "", err)
	}
	return s.FsyncNode(h.node)
}

// FsyncNode writes n back to the backing store now. Directories and nodes
// unlinked while open have nothing to write back to and succeed.
func (s *Session) FsyncNode(n *Node) error {
	if n.isDir {
		return nil
	}

	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	p, ok := s.store.pathOfLocked(n)
	if !ok {
		return nil
	}
	if err := s.writeBack(p, n); err != nil {
		return newError(OpFsync, p, err)
	}
	return nil
}

// Release frees fh for reuse.
func (s *Session) Release(fh uint64) error {
	if err := s.handles.Release(fh); err != nil {
		return newError(OpRelease, "", err)
	}
	return nil
}
