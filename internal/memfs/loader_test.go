package memfs

import (
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBacking(t *testing.T, backing afero.Fs, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, backing.MkdirAll(ParentPath(name), 0o755))
		require.NoError(t, afero.WriteFile(backing, name, []byte(content), 0o644))
	}
}

func TestLoaderPopulatesOneLevel(t *testing.T) {
	s, backing := setupTestSession(t)
	seedBacking(t, backing, map[string]string{
		"/top.txt":         "top",
		"/sub/inner.txt":   "inner",
		"/sub/deeper/x.md": "x",
	})

	entries, err := s.Readdir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{".", "sub", "top.txt"}, entryNames(entries))

	top, ok := s.store.Lookup("/top.txt")
	require.True(t, ok)
	assert.Equal(t, 3, top.Capacity())
	assert.False(t, top.Dirty())

	sub, ok := s.store.Lookup("/sub")
	require.True(t, ok)
	assert.False(t, sub.Initialized(), "population must not recurse")
	_, ok = s.store.Lookup("/sub/inner.txt")
	assert.False(t, ok)

	fh, err := s.Create("/sub/inner.txt", 0o644)
	require.NoError(t, err)
	got, err := s.Read(fh, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, "inner", string(got))
	assert.True(t, sub.Initialized())
}

func TestLoaderIsOneShot(t *testing.T) {
	s, backing := setupTestSession(t)
	seedBacking(t, backing, map[string]string{
		"/mnt/one":   "1",
		"/mnt/two":   "2",
		"/mnt/three": "3",
	})

	first, err := s.Readdir("/mnt")
	require.NoError(t, err)
	assert.Len(t, first, 2+3)

	seedBacking(t, backing, map[string]string{"/mnt/four": "4"})

	second, err := s.Readdir("/mnt")
	require.NoError(t, err)
	assert.Equal(t, entryNames(first), entryNames(second))
}

func TestLoaderTraversalWithoutListing(t *testing.T) {
	s, backing := setupTestSession(t)
	seedBacking(t, backing, map[string]string{"/a/b/c.txt": "content"})

	attrs, err := s.Getattr("/a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(7), attrs.Size)
}

func TestLoaderMissingBackingDirectory(t *testing.T) {
	store := NewStore(newDirNode(RootPath, 0o755, time.Now(), RootPath))
	loader := NewLoader(afero.NewMemMapFs(), store)
	ghost := newDirNode("ghost", 0o755, time.Now(), "/does/not/exist")
	storeInsert(store, "/ghost", ghost)

	require.NoError(t, loader.Populate("/ghost", ghost))
	assert.True(t, ghost.Initialized())
	assert.Equal(t, 0, ghost.childCount())
	assert.NotNil(t, ghost.children)
}

func TestLoaderRejectsFiles(t *testing.T) {
	store := NewStore(newDirNode(RootPath, 0o755, time.Now(), RootPath))
	loader := NewLoader(afero.NewMemMapFs(), store)
	assert.ErrorIs(t, loader.Populate("/f", newFileNode("f", 0o644, time.Now())), ErrNotDir)
}

func TestLoaderConcurrentTraversal(t *testing.T) {
	s, backing := setupTestSession(t)
	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		files["/shared/"+name] = name
	}
	seedBacking(t, backing, files)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := s.Readdir("/shared")
			assert.NoError(t, err)
			assert.Len(t, entries, 2+5)
		}()
	}
	wg.Wait()

	shared, _ := s.store.Lookup("/shared")
	assert.Equal(t, 5, shared.childCount())
}

func TestLoaderDirectoryMovedDuringPopulation(t *testing.T) {
	backing := afero.NewMemMapFs()
	seedBacking(t, backing, map[string]string{"/d/f": "f"})
	store := NewStore(newDirNode(RootPath, 0o755, time.Now(), RootPath))
	loader := NewLoader(backing, store)

	// the node now lives at /e, so a population keyed by /d is stale
	dir := newDirNode("e", 0o755, time.Now(), "/d")
	storeInsert(store, "/e", dir)

	assert.ErrorIs(t, loader.Populate("/d", dir), ErrNotFound)
	assert.False(t, dir.Initialized())
	_, ok := store.Lookup("/d/f")
	assert.False(t, ok)

	require.NoError(t, loader.Populate("/e", dir))
	assert.True(t, dir.Initialized())
	_, ok = store.Lookup("/e/f")
	assert.True(t, ok)
}
