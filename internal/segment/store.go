package segment

import (
	"context"
	"errors"
	"log"
	"sync"
)

// DecodeFunc resolves an audio asset reference to decoded PCM samples.
type DecodeFunc func(ctx context.Context, ref string) ([]int16, error)

// ErrNotReady is returned when buffers are requested before Load settles.
var ErrNotReady = errors.New("segment store not ready")

// Store holds the ordered segment list plus one decoded voice buffer per
// segment. All decodes run concurrently and the store only becomes ready
// once every one of them settles, success or failure. A segment whose decode
// fails stays in the list (its caption still shows) but is marked
// unavailable so the scheduler skips it.
type Store struct {
	decode DecodeFunc

	mu      sync.RWMutex
	segs    []Segment
	buffers [][]int16
	ready   bool
}

// NewStore creates a store using the given decoder.
func NewStore(decode DecodeFunc) *Store {
	return &Store{decode: decode}
}

// Load replaces the store's contents. It validates the list, then fetches
// and decodes every audio asset concurrently, joining before returning.
// Individual decode failures are contained here: they log a warning and
// leave a nil buffer, never abort the load.
func (s *Store) Load(ctx context.Context, segs []Segment) error {
	if err := Validate(segs); err != nil {
		return err
	}

	buffers := make([][]int16, len(segs))

	var wg sync.WaitGroup
	for i, seg := range segs {
		wg.Add(1)
		go func(i int, seg Segment) {
			defer wg.Done()
			samples, err := s.decode(ctx, seg.Audio)
			if err != nil {
				log.Printf("Segment %d (%q): decode failed, will be skipped: %v", i, seg.Text, err)
				return
			}
			buffers[i] = samples
		}(i, seg)
	}
	wg.Wait()

	s.mu.Lock()
	s.segs = append([]Segment(nil), segs...)
	s.buffers = buffers
	s.ready = true
	s.mu.Unlock()

	return nil
}

// Ready reports whether a load has settled.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Count returns the number of segments, available or not.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segs)
}

// Segments returns the ordered segment list.
func (s *Store) Segments() []Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.segs
}

// Segment returns the segment at index i.
func (s *Store) Segment(i int) (Segment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.segs) {
		return Segment{}, false
	}
	return s.segs[i], true
}

// Buffer returns the decoded voice buffer for segment i, or false when the
// segment is out of range or its decode failed. The returned slice is
// read-only shared data; voices read it concurrently without copying.
func (s *Store) Buffer(i int) ([]int16, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready || i < 0 || i >= len(s.buffers) || s.buffers[i] == nil {
		return nil, false
	}
	return s.buffers[i], true
}

// Available reports whether segment i has a playable buffer.
func (s *Store) Available(i int) bool {
	_, ok := s.Buffer(i)
	return ok
}
