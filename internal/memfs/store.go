package memfs

import (
	"sync"
)

// Store maps canonical paths to the nodes it exclusively owns, and each
// stored node back to its path.
//
// mu guards the set of entries only, never node content, and is held only
// for the map operations themselves. Lock order: a directory's node lock
// may be held while taking mu; a regular file's node lock never is. The
// flusher is the one caller that takes file locks while holding mu shared.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	paths map[*Node]string
}

// NewStore creates a store holding only the given root directory.
func NewStore(root *Node) *Store {
	return &Store{
		nodes: map[string]*Node{RootPath: root},
		paths: map[*Node]string{root: RootPath},
	}
}

// Lookup returns the node stored under p.
func (s *Store) Lookup(p string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[p]
	return n, ok
}

// PathOf returns the path n is currently stored under. It fails once n
// has been removed.
func (s *Store) PathOf(n *Node) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pathOfLocked(n)
}

// The helpers below require mu; the mutating ones require it exclusively.

func (s *Store) pathOfLocked(n *Node) (string, bool) {
	p, ok := s.paths[n]
	return p, ok
}

// holdsLocked reports whether n is stored under p.
func (s *Store) holdsLocked(p string, n *Node) bool {
	current, ok := s.nodes[p]
	return ok && current == n
}

func (s *Store) insertLocked(p string, n *Node) {
	if old, ok := s.nodes[p]; ok {
		delete(s.paths, old)
	}
	s.nodes[p] = n
	s.paths[n] = p
}

func (s *Store) removeLocked(p string) (*Node, bool) {
	n, ok := s.nodes[p]
	if !ok {
		return nil, false
	}
	delete(s.nodes, p)
	delete(s.paths, n)
	return n, true
}

// rekeyLocked moves the entry at from, and every entry beneath it, to the
// same relative position under to.
func (s *Store) rekeyLocked(from, to string) int {
	moves := make(map[string]*Node)
	for p, n := range s.nodes {
		if isWithin(p, from) {
			moves[to+p[len(from):]] = n
			delete(s.nodes, p)
		}
	}
	for p, n := range moves {
		s.nodes[p] = n
		s.paths[n] = p
	}
	return len(moves)
}
