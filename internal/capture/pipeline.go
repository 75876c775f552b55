package capture

import (
	"context"
	"sync"
	"time"

	"overdub/internal/audio"
)

// Session is one capture pass: a fixed-rate frame-draw loop plus the
// mixer's capture-sink audio route, both feeding a single encoder. The draw
// loop is gated only by "capture active" — it keeps drawing the current
// frame while the transport is held, because the held frame is still valid
// output.
type Session struct {
	source  FrameSource
	enc     Encoder
	clock   func() float64
	onError func(error)

	cancel   context.CancelFunc
	loopDone chan struct{}

	mu      sync.Mutex
	running bool
	failure error
}

// NewSession builds a capture session over a frame source, an encoder, and
// the transport's playhead reader.
func NewSession(source FrameSource, enc Encoder, clock func() float64) *Session {
	return &Session{
		source: source,
		enc:    enc,
		clock:  clock,
	}
}

// SetOnError registers the mid-recording failure callback. Wire before Start.
func (s *Session) SetOnError(fn func(error)) {
	s.onError = fn
}

// Start negotiates nothing itself; the caller passes the chosen format. It
// launches the encoder and the frame loop.
func (s *Session) Start(ctx context.Context, f Format) error {
	if err := s.enc.Start(ctx, f); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})

	s.mu.Lock()
	s.running = true
	s.failure = nil
	s.mu.Unlock()

	go s.drawLoop(loopCtx)
	return nil
}

func (s *Session) drawLoop(ctx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(time.Second / TargetFPS)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := s.source.Frame(s.clock())
		if err := s.enc.WriteFrame(frame); err != nil {
			s.fail(err)
			return
		}
	}
}

// Sink returns the audio route for the mixer's capture sink.
func (s *Session) Sink() audio.Sink {
	return &sessionSink{s: s}
}

type sessionSink struct {
	s *Session
}

// WritePCM forwards a mixed frame to the encoder while the session runs.
func (k *sessionSink) WritePCM(frame []int16) {
	k.s.mu.Lock()
	running := k.s.running
	k.s.mu.Unlock()
	if !running {
		return
	}
	if err := k.s.enc.WritePCM(frame); err != nil {
		k.s.fail(err)
	}
}

// fail records the first failure and reports it asynchronously so teardown
// initiated by the callback never deadlocks against the loop.
func (s *Session) fail(err error) {
	s.mu.Lock()
	already := s.failure != nil
	if !already {
		s.failure = err
	}
	running := s.running
	s.mu.Unlock()

	if already || !running {
		return
	}
	if s.onError != nil {
		go s.onError(err)
	}
}

// Stop halts the draw loop, finalizes encoding, and returns the complete
// payload in chunk arrival order.
func (s *Session) Stop() ([]byte, error) {
	s.halt()

	if err := s.Err(); err != nil {
		s.enc.Stop() // discard partial output
		return nil, err
	}
	return s.enc.Stop()
}

// Abort tears the session down and discards all output.
func (s *Session) Abort() {
	s.halt()
	s.enc.Stop()
}

func (s *Session) halt() {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if wasRunning && s.cancel != nil {
		s.cancel()
		<-s.loopDone
	}
}

// Err returns the first mid-recording failure, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}
