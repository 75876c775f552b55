package transport

import (
	"context"
	"sync"
	"testing"
	"time"
)

// collector gathers callback invocations behind a mutex so test goroutines
// can observe them safely.
type collector struct {
	mu    sync.Mutex
	ticks []float64
	seeks []float64
	ended int
}

func (c *collector) tick(t float64) {
	c.mu.Lock()
	c.ticks = append(c.ticks, t)
	c.mu.Unlock()
}

func (c *collector) seek(t float64) {
	c.mu.Lock()
	c.seeks = append(c.seeks, t)
	c.mu.Unlock()
}

func (c *collector) end() {
	c.mu.Lock()
	c.ended++
	c.mu.Unlock()
}

func (c *collector) snapshot() ([]float64, []float64, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.ticks...), append([]float64(nil), c.seeks...), c.ended
}

func startClock(t *testing.T, duration float64, every time.Duration) (*Clock, *collector, context.CancelFunc) {
	t.Helper()
	clk := NewClock(duration, every)
	col := &collector{}
	clk.SetOnTick(col.tick)
	clk.SetOnSeek(col.seek)
	clk.SetOnEnded(col.end)

	ctx, cancel := context.WithCancel(context.Background())
	go clk.Run(ctx)
	return clk, col, cancel
}

func TestClockClampsCoarseInterval(t *testing.T) {
	c := NewClock(10, time.Second)
	if c.tickEvery != MaxTickInterval {
		t.Errorf("tickEvery = %v, want clamped to %v", c.tickEvery, MaxTickInterval)
	}
	c2 := NewClock(10, 0)
	if c2.tickEvery != DefaultTickInterval {
		t.Errorf("zero interval should default to %v, got %v", DefaultTickInterval, c2.tickEvery)
	}
}

func TestClockAdvancesAndEnds(t *testing.T) {
	clk, col, cancel := startClock(t, 0.05, 5*time.Millisecond)
	defer cancel()

	clk.Resume()

	deadline := time.After(2 * time.Second)
	for {
		_, _, ended := col.snapshot()
		if ended > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("clock never reached end of media")
		case <-time.After(5 * time.Millisecond):
		}
	}

	ticks, _, _ := col.snapshot()
	if len(ticks) == 0 {
		t.Fatal("no ticks delivered")
	}
	if last := ticks[len(ticks)-1]; last != 0.05 {
		t.Errorf("final tick = %v, want clamped to duration 0.05", last)
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i] < ticks[i-1] {
			t.Fatalf("ticks not non-decreasing: %v then %v", ticks[i-1], ticks[i])
		}
	}
	if clk.Moving() {
		t.Error("clock still moving after end of media")
	}
}

func TestClockPausedDoesNotTick(t *testing.T) {
	_, col, cancel := startClock(t, 10, 5*time.Millisecond)
	defer cancel()

	// Never resumed: position must not advance.
	time.Sleep(50 * time.Millisecond)
	ticks, _, _ := col.snapshot()
	if len(ticks) != 0 {
		t.Errorf("paused clock delivered %d ticks", len(ticks))
	}
}

func TestClockHoldFreezesPosition(t *testing.T) {
	clk, _, cancel := startClock(t, 10, 5*time.Millisecond)
	defer cancel()

	clk.Resume()
	time.Sleep(30 * time.Millisecond)
	clk.Hold()
	frozen := clk.Position()
	time.Sleep(50 * time.Millisecond)
	if got := clk.Position(); got != frozen {
		t.Errorf("position advanced during hold: %v -> %v", frozen, got)
	}

	clk.Release()
	time.Sleep(30 * time.Millisecond)
	if got := clk.Position(); got <= frozen {
		t.Errorf("position did not advance after release: still %v", got)
	}
}

func TestClockSeekResetBeforeTick(t *testing.T) {
	clk, col, cancel := startClock(t, 10, 5*time.Millisecond)
	defer cancel()

	clk.Seek(3.0)

	deadline := time.After(2 * time.Second)
	for {
		ticks, seeks, _ := col.snapshot()
		if len(seeks) > 0 {
			if seeks[0] != 3.0 {
				t.Fatalf("seek callback got %v, want 3.0", seeks[0])
			}
			if len(ticks) == 0 || ticks[0] != 3.0 {
				t.Fatalf("first tick after seek = %v, want 3.0", ticks)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("seek never processed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := clk.Position(); got != 3.0 {
		t.Errorf("Position() = %v, want 3.0", got)
	}
}

func TestClockSeekClamps(t *testing.T) {
	clk, col, cancel := startClock(t, 5, 5*time.Millisecond)
	defer cancel()

	clk.Seek(-1)
	deadline := time.After(2 * time.Second)
	for {
		_, seeks, _ := col.snapshot()
		if len(seeks) > 0 {
			if seeks[0] != 0 {
				t.Fatalf("negative seek clamped to %v, want 0", seeks[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("seek never processed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
