package export

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"overdub/internal/audio"
	"overdub/internal/capture"
	"overdub/internal/engine"
	"overdub/internal/segment"
)

// State is the export state machine. A single tagged value, so illegal
// combinations (recording while idle, ready without an artifact) are
// unrepresentable.
type State int

const (
	Idle State = iota
	Recording
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Ready:
		return "ready"
	case Failed:
		return "error"
	}
	return "unknown"
}

var (
	ErrBusy       = errors.New("export already in progress")
	ErrNoSegments = errors.New("no segments available")
	ErrNotReady   = errors.New("segments still loading")
	ErrNoArtifact = errors.New("no artifact available")
)

// Artifact is the finished media file produced by one export pass.
type Artifact struct {
	ID        string
	MIME      string
	Ext       string
	Data      []byte
	CreatedAt time.Time
}

// Pipeline is the capture surface the controller drives; capture.Session
// satisfies it.
type Pipeline interface {
	Start(ctx context.Context, f capture.Format) error
	SetOnError(fn func(error))
	Sink() audio.Sink
	Stop() ([]byte, error)
	Abort()
}

// Transport is the clock surface the controller needs: repositioning plus
// the playhead for progress math.
type Transport interface {
	Seek(t float64)
	Duration() float64
}

// Sinks is the mixer surface: swapping the capture sink and hard-stopping
// voices between passes.
type Sinks interface {
	SetSink(s audio.Sink)
	StopAll()
}

// Controller orchestrates one unattended, recorded playback pass. An export
// drives the engine exactly as live playback does, which is what guarantees
// the recorded output matches what a listener would have heard.
type Controller struct {
	store     *segment.Store
	session   *engine.Session
	transport Transport
	mixer     Sinks

	negotiate  func(ctx context.Context) (capture.Format, error)
	newSession func() Pipeline

	mu       sync.Mutex
	state    State
	format   capture.Format
	percent  int
	artifact *Artifact
	lastErr  error
	active   Pipeline
}

// NewController wires an export controller. newSession builds a fresh
// capture pipeline per pass.
func NewController(store *segment.Store, session *engine.Session, transport Transport, mixer Sinks, newSession func() Pipeline) *Controller {
	return &Controller{
		store:      store,
		session:    session,
		transport:  transport,
		mixer:      mixer,
		negotiate:  capture.Negotiate,
		newSession: newSession,
	}
}

// Start begins a recorded pass from time zero. Preconditions: the store is
// ready with at least one segment and no recording is underway.
func (c *Controller) Start(ctx context.Context) error {
	if !c.store.Ready() {
		return ErrNotReady
	}
	if c.store.Count() == 0 {
		return ErrNoSegments
	}

	// The busy check and the claim must be one critical section: two
	// racing Start calls would otherwise both pass the check and stack
	// two capture pipelines onto one mixer.
	c.mu.Lock()
	if c.state == Recording {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = Recording
	c.percent = 0
	c.artifact = nil
	c.lastErr = nil
	c.mu.Unlock()

	format, err := c.negotiate(ctx)
	if err != nil {
		c.abortToFailed(err)
		return err
	}

	pipeline := c.newSession()
	pipeline.SetOnError(c.onEncodeError)

	c.mu.Lock()
	c.format = format
	c.active = pipeline
	c.mu.Unlock()

	if err := pipeline.Start(ctx, format); err != nil {
		c.abortToFailed(err)
		return err
	}

	log.Printf("Export started: %s", format.MIME)

	// Scripted live pass: reset the trigger set and voices via the seek
	// path, attach the capture sink, force play intent, roll.
	c.mixer.StopAll()
	c.transport.Seek(0)
	c.mixer.SetSink(pipeline.Sink())
	c.session.SetProgressFunc(c.onProgress)

	c.session.SetPlaying(true)
	return nil
}

// onProgress converts the playhead into an integer percentage.
func (c *Controller) onProgress(t float64) {
	dur := c.transport.Duration()
	if dur <= 0 {
		return
	}
	p := int(100 * t / dur)
	if p > 100 {
		p = 100
	}
	c.mu.Lock()
	if c.state == Recording {
		c.percent = p
	}
	c.mu.Unlock()
}

// OnMediaEnded completes the pass when the transport reports natural
// end-of-media. Wire it to the clock's ended callback.
func (c *Controller) OnMediaEnded() {
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return
	}
	pipeline := c.active
	format := c.format
	c.mu.Unlock()

	c.detach()

	data, err := pipeline.Stop()
	if err != nil {
		log.Printf("Export finalize failed: %v", err)
		c.mu.Lock()
		c.state = Failed
		c.lastErr = err
		c.active = nil
		c.mu.Unlock()
		return
	}

	a := &Artifact{
		ID:        uuid.NewString(),
		MIME:      format.MIME,
		Ext:       format.Ext,
		Data:      data,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	c.state = Ready
	c.percent = 100
	c.artifact = a
	c.active = nil
	c.mu.Unlock()

	log.Printf("Export ready: %s (%d bytes, %s)", a.ID, len(a.Data), a.MIME)
}

// onEncodeError aborts a recording on a mid-pass pipeline failure. The
// half-built capture session is discarded and playback state returns to a
// resumable idle: never stuck recording, never silently corrupted.
func (c *Controller) onEncodeError(err error) {
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return
	}
	pipeline := c.active
	c.state = Failed
	c.lastErr = err
	c.active = nil
	c.mu.Unlock()

	log.Printf("Export aborted: %v", err)
	c.detach()
	if pipeline != nil {
		pipeline.Abort()
	}
}

// detach unhooks the capture pass from live playback and parks the
// transport back at zero with play intent cleared.
func (c *Controller) detach() {
	c.session.SetProgressFunc(nil)
	c.session.SetPlaying(false)
	c.mixer.SetSink(audio.NoopSink)
	c.transport.Seek(0)
}

func (c *Controller) abortToFailed(err error) {
	c.mu.Lock()
	c.state = Failed
	c.lastErr = err
	c.active = nil
	c.mu.Unlock()
	log.Printf("Export failed to start: %v", err)
}

// StateNow returns the current machine state.
func (c *Controller) StateNow() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Percent returns recording progress, 0-100.
func (c *Controller) Percent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.percent
}

// Err returns the failure from the most recent pass, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Artifact returns the finished artifact, or ErrNoArtifact before Ready.
func (c *Controller) Artifact() (*Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Ready || c.artifact == nil {
		return nil, ErrNoArtifact
	}
	return c.artifact, nil
}
