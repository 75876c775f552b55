package engine

import "overdub/internal/segment"

// Resolve returns the caption visible at time t: the most recently started
// segment whose display window still covers t. A segment's window ends at
// the next segment's start, or segment.CaptionTail seconds after its own
// start when it is the last one. Pure function of its inputs; callers
// recompute it every tick so captions stay correct across seeks.
func Resolve(t float64, segs []segment.Segment) (string, bool) {
	idx := -1
	for i, s := range segs {
		if s.StartTime > t {
			break
		}
		idx = i
	}
	if idx < 0 {
		return "", false
	}

	end := segs[idx].StartTime + segment.CaptionTail
	if idx+1 < len(segs) {
		end = segs[idx+1].StartTime
	}
	if t < end {
		return segs[idx].Text, true
	}
	return "", false
}
