package transport

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultTickInterval is the clock's tick cadence. It must stay well below
// the engine's 0.3s trigger window or cues can be skipped between ticks.
const DefaultTickInterval = 50 * time.Millisecond

// MaxTickInterval caps configured cadences below the trigger window.
const MaxTickInterval = 250 * time.Millisecond

// Clock is the video transport: a seekable position over a finite duration
// that advances in real time while playing and not held. It is the single
// tick source for the engine; seeks are processed on the same goroutine as
// ticks so a reset always lands before the first tick at the new position.
type Clock struct {
	tickEvery time.Duration

	onTick  func(t float64)
	onSeek  func(t float64)
	onEnded func()

	mu       sync.Mutex
	duration float64
	pos      float64
	moving   bool // play intent
	held     bool // engine-initiated hold, distinct from pause
	ended    bool

	seekCh chan float64
}

// NewClock creates a transport clock over a media file of the given
// duration in seconds. Cadences above MaxTickInterval are clamped.
func NewClock(duration float64, tickEvery time.Duration) *Clock {
	if tickEvery <= 0 {
		tickEvery = DefaultTickInterval
	}
	if tickEvery > MaxTickInterval {
		log.Printf("Tick interval %v too coarse for the trigger window, clamping to %v", tickEvery, MaxTickInterval)
		tickEvery = MaxTickInterval
	}
	return &Clock{
		tickEvery: tickEvery,
		duration:  duration,
		seekCh:    make(chan float64, 4),
	}
}

// SetOnTick registers the per-tick callback. Wire before Run.
func (c *Clock) SetOnTick(fn func(t float64)) { c.onTick = fn }

// SetOnSeek registers the pre-seek reset callback. Wire before Run.
func (c *Clock) SetOnSeek(fn func(t float64)) { c.onSeek = fn }

// SetOnEnded registers the natural end-of-media callback. Wire before Run.
func (c *Clock) SetOnEnded(fn func()) { c.onEnded = fn }

// Duration returns the media duration in seconds.
func (c *Clock) Duration() float64 {
	return c.duration
}

// Position returns the current playhead in seconds.
func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Moving reports whether the playhead is advancing.
func (c *Clock) Moving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moving && !c.held && !c.ended
}

// Resume starts (or restarts) playhead motion.
func (c *Clock) Resume() {
	c.mu.Lock()
	c.moving = true
	c.ended = c.pos >= c.duration
	c.mu.Unlock()
}

// Pause stops playhead motion on the user's behalf.
func (c *Clock) Pause() {
	c.mu.Lock()
	c.moving = false
	c.mu.Unlock()
}

// Hold freezes the playhead while narration catches up. Play intent is
// unchanged; Release undoes it.
func (c *Clock) Hold() {
	c.mu.Lock()
	c.held = true
	c.mu.Unlock()
}

// Release clears an engine hold.
func (c *Clock) Release() {
	c.mu.Lock()
	c.held = false
	c.mu.Unlock()
}

// Seek requests a jump. The reset callback and the repositioned tick are
// delivered from the run loop, serialized with ordinary ticks.
func (c *Clock) Seek(t float64) {
	if t < 0 {
		t = 0
	}
	if t > c.duration {
		t = c.duration
	}
	select {
	case c.seekCh <- t:
	default:
		// a seek is already queued; the newest position wins on arrival
		select {
		case <-c.seekCh:
		default:
		}
		c.seekCh <- t
	}
}

// Run drives the clock. Blocks until ctx is cancelled.
func (c *Clock) Run(ctx context.Context) {
	ticker := time.NewTicker(c.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case t := <-c.seekCh:
			if c.onSeek != nil {
				c.onSeek(t)
			}
			c.mu.Lock()
			c.pos = t
			c.ended = false
			c.mu.Unlock()
			if c.onTick != nil {
				c.onTick(t)
			}

		case <-ticker.C:
			c.mu.Lock()
			if !c.moving || c.held || c.ended {
				c.mu.Unlock()
				continue
			}
			c.pos += c.tickEvery.Seconds()
			atEnd := c.pos >= c.duration
			if atEnd {
				c.pos = c.duration
				c.ended = true
				c.moving = false
			}
			t := c.pos
			c.mu.Unlock()

			if c.onTick != nil {
				c.onTick(t)
			}
			if atEnd {
				log.Printf("Transport reached end of media at %.2fs", t)
				if c.onEnded != nil {
					c.onEnded()
				}
			}
		}
	}
}
