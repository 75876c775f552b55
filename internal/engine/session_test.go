package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"overdub/internal/audio"
	"overdub/internal/segment"
)

// fakeVoices records every Play call and StopAll.
type fakeVoices struct {
	played  []int
	stopped int
}

func (f *fakeVoices) Play(index int, samples []int16) *audio.Voice {
	f.played = append(f.played, index)
	return &audio.Voice{Index: index}
}

func (f *fakeVoices) StopAll() { f.stopped++ }

// fakeTransport counts control calls.
type fakeTransport struct {
	holds, releases, pauses, resumes int
}

func (f *fakeTransport) Hold()    { f.holds++ }
func (f *fakeTransport) Release() { f.releases++ }
func (f *fakeTransport) Pause()   { f.pauses++ }
func (f *fakeTransport) Resume()  { f.resumes++ }

func testDecode(_ context.Context, ref string) ([]int16, error) {
	if strings.HasPrefix(ref, "bad") {
		return nil, errors.New("decode rejected")
	}
	return make([]int16, 4*audio.FrameSamples), nil
}

func newTestSession(t *testing.T, segs []segment.Segment) (*Session, *fakeVoices, *fakeTransport) {
	t.Helper()
	store := segment.NewStore(testDecode)
	if err := store.Load(context.Background(), segs); err != nil {
		t.Fatalf("store load: %v", err)
	}
	voices := &fakeVoices{}
	transport := &fakeTransport{}
	s := NewSession(store, voices, transport)
	s.SetPlaying(true)
	return s, voices, transport
}

func twoSegments() []segment.Segment {
	return []segment.Segment{
		{StartTime: 0.0, Text: "Hi", Audio: "a"},
		{StartTime: 2.0, Text: "Bye", Audio: "b"},
	}
}

// --- scheduler ---

func TestNoDoubleTrigger(t *testing.T) {
	s, voices, _ := newTestSession(t, twoSegments())

	// Both ticks land inside segment 0's window.
	s.OnTick(0.05)
	s.OnTick(0.25)

	if len(voices.played) != 1 || voices.played[0] != 0 {
		t.Errorf("played = %v, want exactly one trigger of segment 0", voices.played)
	}
}

func TestScenarioTickSequence(t *testing.T) {
	s, voices, _ := newTestSession(t, twoSegments())

	for _, tick := range []float64{0.05, 0.25, 1.9, 2.05, 2.3} {
		s.OnTick(tick)
	}

	want := []int{0, 1}
	if len(voices.played) != len(want) {
		t.Fatalf("played = %v, want %v", voices.played, want)
	}
	for i := range want {
		if voices.played[i] != want[i] {
			t.Fatalf("played = %v, want %v", voices.played, want)
		}
	}
}

func TestTickOutsideWindowSkips(t *testing.T) {
	s, voices, _ := newTestSession(t, twoSegments())

	// First tick already past segment 0's 0.3s window.
	s.OnTick(0.35)
	if len(voices.played) != 0 {
		t.Errorf("played = %v, want none past the trigger window", voices.played)
	}
}

func TestRetriggerAfterSeek(t *testing.T) {
	s, voices, _ := newTestSession(t, twoSegments())

	s.OnTick(0.05)
	s.HandleSeek(0)
	s.OnTick(0.05)

	if len(voices.played) != 2 {
		t.Fatalf("played = %v, want segment 0 twice (seek resets the pass)", voices.played)
	}
	if voices.stopped == 0 {
		t.Error("seek must stop all voices")
	}
}

func TestUnavailableSegmentSkipped(t *testing.T) {
	segs := []segment.Segment{
		{StartTime: 0.0, Text: "ok", Audio: "a"},
		{StartTime: 1.0, Text: "broken", Audio: "bad"},
		{StartTime: 2.0, Text: "ok too", Audio: "c"},
	}
	s, voices, _ := newTestSession(t, segs)

	for _, tick := range []float64{0.05, 1.05, 2.05} {
		s.OnTick(tick)
	}

	want := []int{0, 2}
	if len(voices.played) != 2 || voices.played[0] != 0 || voices.played[1] != 2 {
		t.Errorf("played = %v, want %v (failed segment skipped, later ones unaffected)", voices.played, want)
	}
}

// --- smart pause ---

func TestHoldActivation(t *testing.T) {
	s, _, transport := newTestSession(t, twoSegments())

	s.OnTick(0.05) // trigger segment 0, it becomes the tracked voice

	s.OnTick(1.5) // timeToNext = 0.5, outside lookahead
	if transport.holds != 0 {
		t.Fatal("held with 0.5s to next cue, lookahead is 0.2s")
	}

	s.OnTick(1.85) // timeToNext = 0.15
	if transport.holds != 1 {
		t.Fatal("did not hold with 0.15s to next cue")
	}
	if st := s.Snapshot(); !st.Held {
		t.Error("snapshot should report held")
	}
}

func TestHoldSoundness(t *testing.T) {
	s, _, _ := newTestSession(t, twoSegments())

	for _, tick := range []float64{0.05, 0.5, 1.0, 1.5, 1.85, 1.9} {
		s.OnTick(tick)
		st := s.Snapshot()
		if st.Held && st.ActiveSegment < 0 {
			t.Fatalf("held with no active segment at tick %v", tick)
		}
	}
}

func TestHoldReleasedOnCompletion(t *testing.T) {
	s, _, transport := newTestSession(t, twoSegments())

	s.OnTick(0.05)
	s.OnTick(1.85)
	if transport.holds != 1 {
		t.Fatal("precondition: hold not active")
	}

	s.OnVoiceDone(0)

	if transport.releases != 1 {
		t.Errorf("releases = %d, want 1 after tracked voice completed", transport.releases)
	}
	st := s.Snapshot()
	if st.Held || st.ActiveSegment != -1 {
		t.Errorf("state after release = %+v", st)
	}
}

func TestHoldNotReleasedWhenUserPaused(t *testing.T) {
	s, _, transport := newTestSession(t, twoSegments())

	s.OnTick(0.05)
	s.OnTick(1.85)

	// User pauses during the hold; stop is total and the later completion
	// callback must not resume on the user's behalf.
	s.SetPlaying(false)
	resumesBefore := transport.resumes

	s.OnVoiceDone(0)

	if transport.resumes != resumesBefore {
		t.Error("completion resumed the transport over a user pause")
	}
	if st := s.Snapshot(); st.Held {
		t.Error("hold survived a user pause")
	}
}

func TestCompletionForUntrackedVoiceIsNoop(t *testing.T) {
	s, _, transport := newTestSession(t, twoSegments())

	s.OnTick(0.05)
	s.OnTick(2.05) // segment 1 becomes the tracked voice

	// Late completion of segment 0 must not disturb the tracked state.
	s.OnVoiceDone(0)

	if st := s.Snapshot(); st.ActiveSegment != 1 {
		t.Errorf("ActiveSegment = %d, want 1", st.ActiveSegment)
	}
	if transport.releases != 0 {
		t.Error("untracked completion released the transport")
	}
}

func TestNoHoldWithoutNextSegment(t *testing.T) {
	segs := []segment.Segment{{StartTime: 0.0, Text: "only", Audio: "a"}}
	s, _, transport := newTestSession(t, segs)

	s.OnTick(0.05)
	s.OnTick(0.1)
	if transport.holds != 0 {
		t.Error("held with no following cue")
	}
}

// --- pause/seek semantics ---

func TestPauseStopsEverything(t *testing.T) {
	s, voices, transport := newTestSession(t, twoSegments())

	s.OnTick(0.05)
	s.SetPlaying(false)

	if voices.stopped == 0 {
		t.Error("pause did not stop voices")
	}
	if transport.pauses != 1 {
		t.Errorf("pauses = %d, want 1", transport.pauses)
	}
	st := s.Snapshot()
	if st.Playing || st.Held || st.ActiveSegment != -1 {
		t.Errorf("state after pause = %+v", st)
	}
}

func TestSeekClearsHold(t *testing.T) {
	s, _, transport := newTestSession(t, twoSegments())

	s.OnTick(0.05)
	s.OnTick(1.85)
	s.HandleSeek(5.0)

	if transport.releases != 1 {
		t.Errorf("releases = %d, want 1 (seek abandons the hold)", transport.releases)
	}
	st := s.Snapshot()
	if st.Held || st.ActiveSegment != -1 || st.CurrentTime != 5.0 {
		t.Errorf("state after seek = %+v", st)
	}
}

func TestSeekWhilePausedDoesNotTrigger(t *testing.T) {
	s, voices, _ := newTestSession(t, twoSegments())

	// Pause, then seek into segment 1's window; the repositioning tick
	// must refresh the caption without starting narration.
	s.SetPlaying(false)
	s.HandleSeek(2.05)
	s.OnTick(2.05)

	if len(voices.played) != 0 {
		t.Errorf("played = %v, want none while paused", voices.played)
	}
	if st := s.Snapshot(); st.Caption != "Bye" {
		t.Errorf("caption after paused seek = %q, want Bye", st.Caption)
	}

	// Resuming inside the window fires the cue on the next tick.
	s.SetPlaying(true)
	s.OnTick(2.1)
	if len(voices.played) != 1 || voices.played[0] != 1 {
		t.Errorf("played = %v, want segment 1 after resume", voices.played)
	}
}

// --- captions through the driver ---

func TestTickUpdatesCaption(t *testing.T) {
	s, _, _ := newTestSession(t, twoSegments())

	s.OnTick(1.0)
	if st := s.Snapshot(); st.Caption != "Hi" {
		t.Errorf("caption at 1.0 = %q, want Hi", st.Caption)
	}
	s.OnTick(7.0)
	if st := s.Snapshot(); st.Caption != "" {
		t.Errorf("caption at 7.0 = %q, want none", st.Caption)
	}
}

// --- progress reporting ---

func TestProgressFunc(t *testing.T) {
	s, _, _ := newTestSession(t, twoSegments())

	var seen []float64
	s.SetProgressFunc(func(tk float64) { seen = append(seen, tk) })

	s.OnTick(0.5)
	s.OnTick(1.0)
	s.SetProgressFunc(nil)
	s.OnTick(1.5)

	if len(seen) != 2 || seen[0] != 0.5 || seen[1] != 1.0 {
		t.Errorf("progress observations = %v", seen)
	}
}
