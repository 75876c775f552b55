package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// CaptionTail is how long a caption stays visible after the final segment's
// start when no following segment bounds it (seconds).
const CaptionTail = 5.0

// Segment is one cue of synthesized narration: when it starts on the video
// timeline, what it says, and where its audio asset lives. Segments are
// immutable once loaded.
type Segment struct {
	StartTime float64 `json:"start_time"`
	Text      string  `json:"text"`
	Audio     string  `json:"audio"`
}

var (
	ErrEmpty         = errors.New("segment list is empty")
	ErrNegativeStart = errors.New("segment start time is negative")
	ErrUnsorted      = errors.New("segment start times must be strictly increasing")
)

// ParseManifest reads a JSON array of segments and validates it.
func ParseManifest(r io.Reader) ([]Segment, error) {
	var segs []Segment
	if err := json.NewDecoder(r).Decode(&segs); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := Validate(segs); err != nil {
		return nil, err
	}
	return segs, nil
}

// Validate checks the ordering contract: non-empty, start times >= 0 and
// strictly increasing. Duplicate start times are rejected rather than
// silently racing over which voice wins.
func Validate(segs []Segment) error {
	if len(segs) == 0 {
		return ErrEmpty
	}
	for i, s := range segs {
		if s.StartTime < 0 {
			return fmt.Errorf("segment %d (%.2fs): %w", i, s.StartTime, ErrNegativeStart)
		}
		if i > 0 && s.StartTime <= segs[i-1].StartTime {
			return fmt.Errorf("segment %d (%.2fs after %.2fs): %w", i, s.StartTime, segs[i-1].StartTime, ErrUnsorted)
		}
	}
	return nil
}
