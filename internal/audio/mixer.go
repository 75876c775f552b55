package audio

import (
	"context"
	"sync"
	"time"
)

// Sink receives every mixed narration frame. During an export it feeds the
// encoder's audio input; the rest of the time it is a no-op so that voices
// route identically whether or not a recording is running.
type Sink interface {
	WritePCM(frame []int16)
}

type discardSink struct{}

func (discardSink) WritePCM([]int16) {}

// NoopSink drops every frame.
var NoopSink Sink = discardSink{}

// Voice is a transient one-shot playback instance created when a dubbing
// segment triggers. It is owned by the Mixer until it drains or is stopped.
type Voice struct {
	Index   int // segment index this voice narrates
	samples []int16
	pos     int
	live    bool
}

// Remaining returns the number of samples left to play.
func (v *Voice) Remaining() int {
	if v.pos >= len(v.samples) {
		return 0
	}
	return len(v.samples) - v.pos
}

// Mixer sums all active voices into 20ms PCM frames at real-time rate and
// routes every frame to two destinations: the live frame channel and the
// capture sink. Overlapping voices are additive; silence is emitted when
// nothing is playing so downstream consumers see a continuous stream.
type Mixer struct {
	frameCh chan []int16

	mu     sync.Mutex
	voices []*Voice
	sink   Sink
	onDone func(index int)
}

// NewMixer creates a mixer with a no-op capture sink.
func NewMixer() *Mixer {
	return &Mixer{
		frameCh: make(chan []int16, 100),
		sink:    NoopSink,
	}
}

// Frames returns the channel of outgoing mixed PCM frames (20ms each).
func (m *Mixer) Frames() <-chan []int16 {
	return m.frameCh
}

// SetSink swaps the capture sink. Pass NoopSink to detach.
func (m *Mixer) SetSink(s Sink) {
	m.mu.Lock()
	if s == nil {
		s = NoopSink
	}
	m.sink = s
	m.mu.Unlock()
}

// SetOnDone registers the completion callback, invoked once per voice that
// drains naturally. Never invoked for voices removed by StopAll.
func (m *Mixer) SetOnDone(fn func(index int)) {
	m.mu.Lock()
	m.onDone = fn
	m.mu.Unlock()
}

// Play starts a voice for the given segment index from decoded samples.
func (m *Mixer) Play(index int, samples []int16) *Voice {
	v := &Voice{Index: index, samples: samples, live: true}
	m.mu.Lock()
	m.voices = append(m.voices, v)
	m.mu.Unlock()
	return v
}

// StopAll force-stops every active voice. Stopped voices never fire the
// completion callback: the live flag is the liveness check a late mix pass
// would otherwise trip over.
func (m *Mixer) StopAll() {
	m.mu.Lock()
	for _, v := range m.voices {
		v.live = false
	}
	m.voices = nil
	m.mu.Unlock()
}

// ActiveVoices returns the number of voices currently mixing.
func (m *Mixer) ActiveVoices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Run drives the mix loop. Blocks until ctx is cancelled.
func (m *Mixer) Run(ctx context.Context) {
	defer close(m.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, done, sink := m.mixFrame()
		sink.WritePCM(frame)

		select {
		case m.frameCh <- frame:
		case <-ctx.Done():
			return
		}

		// Completion callbacks fire outside the mixer lock; the session
		// serializes them against ticks with its own state lock.
		for _, idx := range done {
			if fn := m.doneFunc(); fn != nil {
				fn(idx)
			}
		}
	}
}

// mixFrame sums the next 20ms of every live voice, advancing positions and
// collecting the indices of voices that drained this frame.
func (m *Mixer) mixFrame() (frame []int16, done []int, sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frame = make([]int16, FrameSamples)
	kept := m.voices[:0]
	for _, v := range m.voices {
		if !v.live {
			continue
		}
		n := FrameSamples
		if rem := len(v.samples) - v.pos; rem < n {
			n = rem
		}
		for i := 0; i < n; i++ {
			mixed := float64(frame[i]) + float64(v.samples[v.pos+i])*voiceGain(v.pos+i, len(v.samples))
			if mixed > 32767 {
				mixed = 32767
			} else if mixed < -32768 {
				mixed = -32768
			}
			frame[i] = int16(mixed)
		}
		v.pos += n
		if v.pos >= len(v.samples) {
			v.live = false
			done = append(done, v.Index)
			continue
		}
		kept = append(kept, v)
	}
	m.voices = kept
	return frame, done, m.sink
}

func (m *Mixer) doneFunc() func(int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onDone
}
