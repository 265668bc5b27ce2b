package memfs

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"cachefs/internal/logging"
)

var flushLogger = logging.GetLogger().WithPrefix("flush")

// DefaultFlushInterval is the period between write-back cycles.
const DefaultFlushInterval = 10 * time.Second

// flushParallelism bounds concurrent backing-store writes in one cycle.
const flushParallelism = 8

// ErrFlusherStarted is returned when Start is called more than once.
var ErrFlusherStarted = errors.New("flusher already started")

// writeBack overwrites the backing file for p with n's content if n is
// dirty. On failure dirty stays set so the next cycle retries. Caller holds
// s.store.mu in shared mode.
func (s *Session) writeBack(p string, n *Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.dirty || n.isDir {
		return nil
	}

	if err := s.backing.MkdirAll(ParentPath(p), 0o755); err != nil {
		flushLogger.Error("Failed to create backing directory for %q: %v", p, err)
		return errors.Join(ErrIO, err)
	}
	var content []byte
	if n.data != nil {
		content = n.data[:n.size]
	}
	if err := afero.WriteFile(s.backing, p, content, n.mode.Perm()|0o200); err != nil {
		flushLogger.Error("Failed to write back %q (%d bytes): %v", p, n.size, err)
		return errors.Join(ErrIO, err)
	}

	n.dirty = false
	flushLogger.Trace("Wrote back %q (%d bytes)", p, n.size)
	return nil
}

// SyncDirty writes every dirty regular file back to the backing store and
// returns how many were written. The structural lock is held shared for the
// whole cycle, so no entry is re-keyed mid-write. Failures are logged and
// left dirty; the first one is returned.
func (s *Session) SyncDirty() (int, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	var (
		g       errgroup.Group
		flushed atomic.Int64
	)
	g.SetLimit(flushParallelism)

	for p, n := range s.store.nodes {
		if n.isDir {
			continue
		}
		g.Go(func() error {
			n.mu.RLock()
			dirty := n.dirty
			n.mu.RUnlock()
			if !dirty {
				return nil
			}
			if err := s.writeBack(p, n); err != nil {
				return newError(OpFlush, p, err)
			}
			flushed.Add(1)
			return nil
		})
	}

	err := g.Wait()
	return int(flushed.Load()), err
}

// Flusher runs SyncDirty on a fixed period in a background goroutine.
type Flusher struct {
	session  *Session
	interval time.Duration

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewFlusher creates a flusher for session. A non-positive interval uses
// DefaultFlushInterval.
func NewFlusher(session *Session, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Flusher{
		session:  session,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background goroutine. It may be called once.
func (f *Flusher) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return ErrFlusherStarted
	}
	f.started = true
	go f.run()

	flushLogger.Info("Flusher started (interval %v)", f.interval)
	return nil
}

// Stop signals the goroutine, waits for its final cycle to finish and
// returns. Calling Stop again, or on a flusher never started, is a no-op.
func (f *Flusher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.started {
		return
	}
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	<-f.done
}

func (f *Flusher) run() {
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.cycle()
		case <-f.stop:
			f.cycle()
			flushLogger.Info("Flusher stopped")
			return
		}
	}
}

func (f *Flusher) cycle() {
	start := time.Now()
	flushed, err := f.session.SyncDirty()
	if err != nil {
		flushLogger.Warn("Flush cycle incomplete, will retry: %v", err)
	}
	if flushed > 0 {
		flushLogger.Debug("Flushed %d files in %v", flushed, time.Since(start))
	}
}
