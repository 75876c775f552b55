package stream

import (
	"context"
	"log"
	"sync"
)

// listenerBuffer is each listener's frame backlog: 150 frames of 20ms is
// three seconds of narration before drops begin.
const listenerBuffer = 150

// Broadcaster fans the mixer's narration frames out to every attached
// listener. The capture sink is deliberately not one of them: export audio
// has its own route so a slow listener can never cost the recording a
// frame. For listeners the narration is disposable the moment it is late,
// so a full backlog drops frames instead of blocking the fan-out.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener is one attached consumer of the narration mix.
type Listener struct {
	C    chan []int16 // 20ms PCM frames
	done chan struct{}

	mu      sync.Mutex
	dropped int
}

// Dropped reports how many frames this listener lost to a full backlog.
func (l *Listener) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Listener) drop() {
	l.mu.Lock()
	l.dropped++
	l.mu.Unlock()
}

// NewBroadcaster creates a broadcaster with no listeners attached.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe attaches a listener to the narration mix.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, listenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe detaches a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	close(l.done)
	if n := l.Dropped(); n > 0 {
		log.Printf("Listener detached after dropping %d narration frames", n)
	}
}

// ListenerCount returns the number of attached listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Run fans frames from source out to every listener until ctx is cancelled
// or the source closes. The mixer emits silence frames while nothing plays,
// so listeners see a continuous stream; a paused or held video does not
// interrupt delivery.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.drop()
				}
			}
			b.mu.RUnlock()
		}
	}
}
