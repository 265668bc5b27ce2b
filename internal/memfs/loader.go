package memfs

import (
	"errors"
	"os"
	"path"

	"github.com/spf13/afero"

	"cachefs/internal/logging"
)

var loaderLogger = logging.GetLogger().WithPrefix("loader")

// Loader populates directory nodes from the backing store, one level at a
// time and at most once per directory.
type Loader struct {
	backing afero.Fs
	store   *Store
}

// NewLoader creates a loader reading from backing into store.
func NewLoader(backing afero.Fs, store *Store) *Loader {
	return &Loader{backing: backing, store: store}
}

// Populate loads the children of dir, stored under dirPath, if that has not
// happened yet. Subdirectories are created uninitialized; regular files are
// read whole into exactly-sized buffers.
func (l *Loader) Populate(dirPath string, dir *Node) error {
	if !dir.isDir {
		return ErrNotDir
	}

	dir.mu.RLock()
	done := dir.initialized
	dir.mu.RUnlock()
	if done {
		return nil
	}

	dir.mu.Lock()
	defer dir.mu.Unlock()
	if dir.initialized {
		return nil
	}

	loaderLogger.Debug("Populating %q from backing path %q", dirPath, dir.origin)
	entries, err := afero.ReadDir(l.backing, dir.origin)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			loaderLogger.Error("Failed to enumerate %q: %v", dir.origin, err)
			return newError(OpPopulate, dirPath, errors.Join(ErrIO, err))
		}
		loaderLogger.Debug("Backing directory %q is missing, populating empty", dir.origin)
		entries = nil
	}

	created := make(map[string]*Node, len(entries))
	for _, info := range entries {
		name := info.Name()
		origin := path.Join(dir.origin, name)
		switch {
		case info.IsDir():
			child := newDirNode(name, info.Mode(), info.ModTime(), origin)
			created[name] = child
		case info.Mode().IsRegular():
			data, readErr := afero.ReadFile(l.backing, origin)
			if readErr != nil {
				loaderLogger.Warn("Skipping unreadable file %q: %v", origin, readErr)
				continue
			}
			child := newFileNode(name, info.Mode(), info.ModTime())
			if len(data) > 0 {
				child.data = data
			}
			child.size = int64(len(data))
			created[name] = child
		default:
			loaderLogger.Debug("Skipping %q with unsupported mode %v", origin, info.Mode())
		}
	}

	l.store.mu.Lock()
	if !l.store.holdsLocked(dirPath, dir) {
		// Renamed or removed while we were reading. The directory stays
		// uninitialized and is populated on the next traversal of its
		// current path.
		l.store.mu.Unlock()
		loaderLogger.Debug("Directory %q moved during population", dirPath)
		return ErrNotFound
	}
	added := 0
	for name, child := range created {
		childPath := ChildPath(dirPath, name)
		if _, exists := l.store.nodes[childPath]; exists {
			continue
		}
		l.store.insertLocked(childPath, child)
		added++
	}
	l.store.mu.Unlock()

	if dir.children == nil {
		dir.children = newChildSet()
	}
	for name := range created {
		dir.children.Set(name, struct{}{})
	}
	dir.initialized = true

	loaderLogger.Debug("Populated %q with %d entries", dirPath, added)
	return nil
}
