package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeSource serves a fixed 2x2 frame stamped with the request time.
type fakeSource struct {
	mu    sync.Mutex
	calls []float64
}

func (f *fakeSource) Frame(t float64) []byte {
	f.mu.Lock()
	f.calls = append(f.calls, t)
	f.mu.Unlock()
	return []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
}

func (f *fakeSource) Bounds() (int, int) { return 2, 2 }

// fakeEncoder records writes in order and can be armed to fail.
type fakeEncoder struct {
	mu        sync.Mutex
	started   bool
	format    Format
	frames    int
	pcm       int
	failFrame bool
	payload   []byte
}

func (f *fakeEncoder) Start(_ context.Context, fm Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.format = fm
	return nil
}

func (f *fakeEncoder) WriteFrame(rgb []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFrame {
		return errors.New("encoder rejected frame")
	}
	f.frames++
	return nil
}

func (f *fakeEncoder) WritePCM(frame []int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pcm++
	return nil
}

func (f *fakeEncoder) Stop() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payload == nil {
		f.payload = []byte("artifact")
	}
	return f.payload, nil
}

func (f *fakeEncoder) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames, f.pcm
}

func TestSessionDrawsFrames(t *testing.T) {
	src := &fakeSource{}
	enc := &fakeEncoder{}
	pos := 1.5
	s := NewSession(src, enc, func() float64 { return pos })

	if err := s.Start(context.Background(), Preferences[0]); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		frames, _ := enc.counts()
		if frames >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("frame loop produced no frames")
		case <-time.After(10 * time.Millisecond):
		}
	}

	data, err := s.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !bytes.Equal(data, []byte("artifact")) {
		t.Errorf("Stop payload = %q", data)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	for _, c := range src.calls {
		if c != 1.5 {
			t.Errorf("frame requested at %v, clock said 1.5", c)
		}
	}
}

func TestSessionSinkRoutesAudio(t *testing.T) {
	enc := &fakeEncoder{}
	s := NewSession(&fakeSource{}, enc, func() float64 { return 0 })
	if err := s.Start(context.Background(), Preferences[0]); err != nil {
		t.Fatal(err)
	}

	sink := s.Sink()
	sink.WritePCM(make([]int16, 4))
	sink.WritePCM(make([]int16, 4))

	if _, pcm := enc.counts(); pcm != 2 {
		t.Errorf("pcm writes = %d, want 2", pcm)
	}

	s.Stop()
	sink.WritePCM(make([]int16, 4))
	if _, pcm := enc.counts(); pcm != 2 {
		t.Error("sink accepted audio after Stop")
	}
}

func TestSessionEncodeErrorReported(t *testing.T) {
	enc := &fakeEncoder{failFrame: true}
	s := NewSession(&fakeSource{}, enc, func() float64 { return 0 })

	errCh := make(chan error, 1)
	s.SetOnError(func(err error) { errCh <- err })

	if err := s.Start(context.Background(), Preferences[0]); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("nil error reported")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("encode error never reported")
	}

	if _, err := s.Stop(); err == nil {
		t.Error("Stop after failure should surface the error")
	}
}

func TestSessionAbortDiscards(t *testing.T) {
	enc := &fakeEncoder{}
	s := NewSession(&fakeSource{}, enc, func() float64 { return 0 })
	if err := s.Start(context.Background(), Preferences[0]); err != nil {
		t.Fatal(err)
	}
	s.Abort()
	// Abort must leave the session stopped and quiet.
	if s.Err() != nil {
		t.Errorf("Abort produced failure %v", s.Err())
	}
}

// streamHarness serves synthetic 1x1 frames (frameBytes 3, each byte the
// frame number) and counts decoder starts and stops.
type streamHarness struct {
	frames int
	opens  []int
	stops  int
}

func (h *streamHarness) source() *VideoFrameSource {
	return &VideoFrameSource{
		width:      1,
		height:     1,
		frameBytes: 3,
		curIdx:     -1,
		open:       h.open,
	}
}

func (h *streamHarness) open(startFrame int) (io.ReadCloser, func(), error) {
	h.opens = append(h.opens, startFrame)
	var data []byte
	for i := startFrame; i < h.frames; i++ {
		data = append(data, byte(i), byte(i), byte(i))
	}
	stop := func() { h.stops++ }
	return io.NopCloser(bytes.NewReader(data)), stop, nil
}

func TestVideoFrameSourceForward(t *testing.T) {
	h := &streamHarness{frames: 90}
	src := h.source()

	if got := src.Frame(0); got[0] != 0 {
		t.Fatalf("frame at 0 = %d, want 0", got[0])
	}
	// The 30 FPS loop advances roughly one frame per call; the held
	// playhead repeats the same frame without touching the stream.
	if got := src.Frame(1.0); got[0] != 30 {
		t.Errorf("frame at 1.0 = %d, want 30", got[0])
	}
	if got := src.Frame(1.0); got[0] != 30 {
		t.Errorf("repeated frame at 1.0 = %d, want 30", got[0])
	}
	if len(h.opens) != 1 {
		t.Errorf("decoder starts = %v, want one forward stream", h.opens)
	}
}

func TestVideoFrameSourceBackwardRestarts(t *testing.T) {
	h := &streamHarness{frames: 90}
	src := h.source()

	src.Frame(2.0)
	if got := src.Frame(0.5); got[0] != 15 {
		t.Errorf("frame after backward seek = %d, want 15", got[0])
	}
	if len(h.opens) != 2 || h.opens[1] != 15 {
		t.Errorf("decoder starts = %v, want restart at frame 15", h.opens)
	}
	if h.stops == 0 {
		t.Error("backward seek never reclaimed the old decoder")
	}
}

func TestVideoFrameSourceClampsPastEnd(t *testing.T) {
	h := &streamHarness{frames: 10}
	src := h.source()

	src.Frame(0) // prime, as OpenVideo does
	if got := src.Frame(100); got[0] != 9 {
		t.Errorf("frame past end = %d, want last frame 9", got[0])
	}
	// Still clamped on the next request, without reopening the decoder.
	opens := len(h.opens)
	if got := src.Frame(200); got[0] != 9 {
		t.Errorf("frame past end = %d, want last frame 9", got[0])
	}
	if len(h.opens) != opens {
		t.Errorf("decoder restarted past end: %v", h.opens)
	}

	if got := src.Frame(-1); got[0] != 0 {
		t.Errorf("frame at negative time = %d, want 0", got[0])
	}
}

func TestVideoFrameSourceBounds(t *testing.T) {
	src := (&streamHarness{frames: 1}).source()
	w, h := src.Bounds()
	if w != 1 || h != 1 {
		t.Errorf("Bounds = %dx%d, want 1x1", w, h)
	}
}
