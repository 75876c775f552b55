package engine

import (
	"log"
	"sync"

	"overdub/internal/audio"
	"overdub/internal/segment"
)

// Timing constants of the playback contract. The driving clock's tick
// interval must stay below TriggerWindow or segments can be skipped
// entirely.
const (
	// TriggerWindow is the half-open tolerance after a segment's start
	// during which it still counts as due (seconds).
	TriggerWindow = 0.3

	// HoldLookahead is how close the next cue must be before the video is
	// held back for unfinished narration (seconds).
	HoldLookahead = 0.2

	// HoldStaleness bounds how far past the next cue the hold check may
	// still act; beyond it the state is stale and the hold is skipped.
	HoldStaleness = 0.5
)

// Voices is the mixer surface the session drives.
type Voices interface {
	Play(index int, samples []int16) *audio.Voice
	StopAll()
}

// Transport is the video clock the session controls. Hold/Release is the
// engine-initiated pause, distinct from the user's Pause/Resume intent.
type Transport interface {
	Hold()
	Release()
	Pause()
	Resume()
}

// Status is a snapshot of the session for the API surface.
type Status struct {
	CurrentTime   float64 `json:"position"`
	Playing       bool    `json:"playing"`
	Held          bool    `json:"held"`
	ActiveSegment int     `json:"active_segment"` // -1 when none
	Caption       string  `json:"caption"`
	Triggered     int     `json:"triggered"`
}

// Session is the playback engine's mutable core. Every mutation funnels
// through one mutex: clock ticks, voice completions, and user actions are
// the only writers and serialize on it. Nothing else touches the state.
type Session struct {
	store     *segment.Store
	voices    Voices
	transport Transport

	mu         sync.Mutex
	current    float64
	playing    bool
	triggered  map[int]bool
	active     int // tracked segment index, -1 when none
	held       bool
	caption    string
	progressFn func(t float64) // set only while an export pass runs
}

// NewSession wires a session over a loaded store, a mixer, and a transport.
func NewSession(store *segment.Store, voices Voices, transport Transport) *Session {
	return &Session{
		store:     store,
		voices:    voices,
		transport: transport,
		triggered: make(map[int]bool),
		active:    -1,
	}
}

// OnTick is the timeline driver: the transport calls it on every meaningful
// time-position change, in non-decreasing order between seeks. Per tick it
// updates the clock, runs the scheduler, evaluates the smart-pause hold,
// resolves the caption, and reports export progress.
func (s *Session) OnTick(t float64) {
	s.mu.Lock()

	s.current = t
	s.schedule(t)
	s.evaluateHold(t)
	s.caption, _ = Resolve(t, s.store.Segments())
	fn := s.progressFn

	s.mu.Unlock()

	if fn != nil {
		fn(t)
	}
}

// schedule triggers every due segment exactly once per playback pass.
// Must be called with mu held.
func (s *Session) schedule(t float64) {
	// A tick can arrive while paused (a seek delivers one to refresh
	// position and caption); narration only starts under play intent.
	if !s.playing {
		return
	}
	for i, seg := range s.store.Segments() {
		if seg.StartTime > t {
			break
		}
		if s.triggered[i] || t >= seg.StartTime+TriggerWindow {
			continue
		}
		buf, ok := s.store.Buffer(i)
		if !ok {
			// Decode failed for this one; it never becomes a trigger
			// candidate but must not block segments after it.
			continue
		}
		s.triggered[i] = true
		s.voices.Play(i, buf)
		s.active = i
		log.Printf("Segment %d triggered at %.2fs: %q", i, t, seg.Text)
	}
}

// evaluateHold fires the FREE -> HOLDING transition: the tracked voice has
// not finished and the next cue is imminent, so the video waits for the
// narration instead of cutting past it. Must be called with mu held.
func (s *Session) evaluateHold(t float64) {
	if s.held || s.active < 0 || !s.playing {
		return
	}
	next, ok := s.store.Segment(s.active + 1)
	if !ok {
		return
	}
	timeToNext := next.StartTime - t
	if timeToNext <= HoldLookahead && timeToNext > -HoldStaleness {
		s.held = true
		s.transport.Hold()
		log.Printf("Holding video at %.2fs for segment %d narration (next cue in %.2fs)", t, s.active, timeToNext)
	}
}

// OnVoiceDone is the mixer's completion callback for a naturally drained
// voice. HOLDING -> FREE happens here and only here, and only while the
// user's play intent still stands.
func (s *Session) OnVoiceDone(index int) {
	s.mu.Lock()

	if index != s.active {
		s.mu.Unlock()
		return
	}
	s.active = -1

	release := false
	if s.held && s.playing {
		s.held = false
		release = true
	}
	s.mu.Unlock()

	if release {
		s.transport.Release()
		log.Printf("Segment %d narration finished, releasing hold", index)
	}
}

// HandleSeek resets the pass for a jump to time t: the triggered set clears
// (segments may fire again on the new pass), every voice stops, and any hold
// is abandoned. The transport invokes this before delivering the first tick
// at the new position, so stale triggers from the old pass cannot fire.
func (s *Session) HandleSeek(t float64) {
	s.mu.Lock()
	s.triggered = make(map[int]bool)
	heldWas := s.held
	s.held = false
	s.active = -1
	s.current = t
	s.caption, _ = Resolve(t, s.store.Segments())
	s.mu.Unlock()

	s.voices.StopAll()
	if heldWas {
		s.transport.Release()
	}
}

// SetPlaying flips the user's play intent. Stopping is synchronous and
// total: all voices stop, the tracked segment and any hold clear, and a
// completion callback arriving afterwards is a no-op.
func (s *Session) SetPlaying(play bool) {
	s.mu.Lock()
	s.playing = play
	heldWas := s.held
	if !play {
		s.held = false
		s.active = -1
	}
	s.mu.Unlock()

	if play {
		s.transport.Resume()
		return
	}
	s.voices.StopAll()
	s.transport.Pause()
	if heldWas {
		s.transport.Release()
	}
}

// SetProgressFunc registers an export progress observer called after every
// tick. Pass nil to detach.
func (s *Session) SetProgressFunc(fn func(t float64)) {
	s.mu.Lock()
	s.progressFn = fn
	s.mu.Unlock()
}

// Playing reports the user's play intent.
func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Snapshot returns the current engine state for the API surface.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		CurrentTime:   s.current,
		Playing:       s.playing,
		Held:          s.held,
		ActiveSegment: s.active,
		Caption:       s.caption,
		Triggered:     len(s.triggered),
	}
}
