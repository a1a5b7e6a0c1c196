// Package frame continuously pulls frames from a camera source and exposes
// the latest decoded frame by snapshot copy, auto-reconnecting on failure.
package frame

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/argusvision/sentinel/internal/model"
)

// Decoder is the abstract frame producer a Source drives — the thin
// boundary a concrete backend (gocv, a file reader, a synthetic generator)
// implements.
type Decoder interface {
	// Open connects to the configured source. Returns an error if the
	// source cannot be reached.
	Open(ctx context.Context) error
	// Read decodes one frame. Returns an error on any read failure.
	Read(ctx context.Context) (*model.Frame, error)
	// Close releases the decoder's resources.
	Close() error
}

// reconnectDelay and throttleDelay are vars (not consts) so tests can speed
// them up; production code never reassigns them.
var (
	reconnectDelay = 1 * time.Second
	throttleDelay  = 10 * time.Millisecond
)

// setReconnectDelay overrides reconnectDelay; used only by tests.
func setReconnectDelay(d time.Duration) { reconnectDelay = d }

// Source runs a single background producer goroutine feeding a
// mutex-protected latest-frame slot.
type Source struct {
	newDecoder func() Decoder

	mu      sync.RWMutex
	latest  *model.Frame
	current Decoder

	running int32
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSource returns a Source that uses newDecoder to (re)create its decoder
// on every (re)connect attempt: release the decoder, wait, reopen, since
// most real decoders cannot be reused once torn down.
func NewSource(newDecoder func() Decoder) *Source {
	return &Source{newDecoder: newDecoder, done: make(chan struct{})}
}

// Start spawns the background producer. Safe to call once.
func (s *Source) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return
	}
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Source) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		dec := s.newDecoder()
		if err := dec.Open(ctx); err != nil {
			log.Printf("[frame] open failed, retrying in %s: %v", reconnectDelay, err)
			s.clearLatest()
			if !s.sleep(ctx, reconnectDelay) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.current = dec
		s.mu.Unlock()

		s.readLoop(ctx, dec)

		dec.Close()
		s.clearLatest()
		if !s.sleep(ctx, reconnectDelay) {
			return
		}
	}
}

// readLoop reads frames until a read failure, sleeping throttleDelay
// between successful reads to cap producer CPU.
func (s *Source) readLoop(ctx context.Context, dec Decoder) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		f, err := dec.Read(ctx)
		if err != nil {
			log.Printf("[frame] read failed: %v", err)
			return
		}

		s.mu.Lock()
		s.latest = f
		s.mu.Unlock()

		if !s.sleep(ctx, throttleDelay) {
			return
		}
	}
}

func (s *Source) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	case <-t.C:
		return true
	}
}

func (s *Source) clearLatest() {
	s.mu.Lock()
	s.latest = nil
	s.mu.Unlock()
}

// Latest returns a snapshot copy of the most recent decoded frame, or nil
// while disconnected. It never blocks and never errors.
func (s *Source) Latest() *model.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil
	}
	return s.latest.Clone()
}

// Release stops the producer and frees the decoder.
func (s *Source) Release() {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 2) {
		return
	}
	close(s.done)
	s.wg.Wait()

	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()
	if cur != nil {
		cur.Close()
	}
}
