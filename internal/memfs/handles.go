package memfs

import (
	"os"
	"sync"
)

// Handle is one slot of the handle table.
type Handle struct {
	used  bool
	flags int
	node  *Node
}

// Readable reports whether the handle was opened for reading.
func (h Handle) Readable() bool {
	acc := h.flags & accessModeMask
	return acc == os.O_RDONLY || acc == os.O_RDWR
}

// Writable reports whether the handle was opened for writing.
func (h Handle) Writable() bool {
	acc := h.flags & accessModeMask
	return acc == os.O_WRONLY || acc == os.O_RDWR
}

const accessModeMask = os.O_RDONLY | os.O_WRONLY | os.O_RDWR

// HandleTable hands out small integer handles bound to a node. Released
// slots are reused before the table grows; slots are never removed.
type HandleTable struct {
	mu    sync.Mutex
	slots []Handle
}

// NewHandleTable creates an empty table.
func NewHandleTable() *HandleTable {
	return &HandleTable{}
}

// Allocate binds node to the lowest free slot and returns its index.
func (t *HandleTable) Allocate(node *Node, flags int) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := Handle{used: true, flags: flags, node: node}
	for i := range t.slots {
		if !t.slots[i].used {
			t.slots[i] = h
			return uint64(i)
		}
	}
	t.slots = append(t.slots, h)
	return uint64(len(t.slots) - 1)
}

// Get returns the slot for fh, failing with ErrBadHandle when fh is out of
// range or released.
func (t *HandleTable) Get(fh uint64) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fh >= uint64(len(t.slots)) || !t.slots[fh].used {
		return Handle{}, ErrBadHandle
	}
	return t.slots[fh], nil
}

// Release marks fh unused.
func (t *HandleTable) Release(fh uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fh >= uint64(len(t.slots)) || !t.slots[fh].used {
		return ErrBadHandle
	}
	t.slots[fh] = Handle{}
	return nil
}

// InUse returns the number of slots currently bound.
func (t *HandleTable) InUse() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for _, h := range t.slots {
		if h.used {
			count++
		}
	}
	return count
}

// Slots returns the table length, released slots included.
func (t *HandleTable) Slots() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
