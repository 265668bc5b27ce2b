package memfs

// ensureCapacity makes room for need bytes. The first allocation is sized
// exactly; later growth is to max(need, 1.5 * capacity) so that n appends
// cost O(log n) reallocations and at most half the buffer sits unused.
// New blocks are zero-filled, which is what makes sparse writes read back
// as zeros. Caller holds n.mu exclusively.
func (n *Node) ensureCapacity(need int64) {
	if n.data == nil {
		n.data = make([]byte, need)
		return
	}

	capacity := int64(len(n.data))
	if need <= capacity {
		return
	}

	grown := capacity + capacity/2
	if need > grown {
		grown = need
	}
	buf := make([]byte, grown)
	copy(buf, n.data[:n.size])
	n.data = buf
}
