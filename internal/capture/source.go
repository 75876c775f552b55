package capture

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
)

// TargetFPS is the capture frame rate, independent of the engine's tick
// cadence.
const TargetFPS = 30

// FrameSource supplies the visual frame for a timeline position. The frame
// for a held playhead is the same frame again; that is valid output.
type FrameSource interface {
	Frame(t float64) []byte
	Bounds() (width, height int)
}

// frameIndex maps a playhead position to a frame number at the capture rate.
func frameIndex(t float64) int {
	if t < 0 {
		return 0
	}
	return int(t * TargetFPS)
}

// openStreamFunc starts a rawvideo decode at the given frame number and
// returns the stream plus a stop func that reclaims the decoder.
type openStreamFunc func(startFrame int) (io.ReadCloser, func(), error)

// VideoFrameSource serves raw RGB frames by streaming the base video through
// ffmpeg and holding only the frame under the playhead. Forward motion reads
// ahead on the open stream; a backward seek restarts the decode at the
// target. Memory stays at two frame buffers however long the input is.
type VideoFrameSource struct {
	width, height int
	frameBytes    int
	open          openStreamFunc

	mu     sync.Mutex
	stream io.ReadCloser
	stop   func()
	next   int // frame number the stream yields next
	cur    []byte
	spare  []byte
	curIdx int
	ended  bool
}

// OpenVideo starts a frame source over the video file, decoding the first
// frame eagerly so an unreadable input fails here instead of mid-export.
func OpenVideo(ctx context.Context, path string, width, height int) (*VideoFrameSource, error) {
	s := &VideoFrameSource{
		width:      width,
		height:     height,
		frameBytes: width * height * 3,
		curIdx:     -1,
		open: func(startFrame int) (io.ReadCloser, func(), error) {
			return openFFmpegFrames(ctx, path, width, height, startFrame)
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.restart(0); err != nil {
		return nil, err
	}
	if !s.advanceTo(0) {
		return nil, fmt.Errorf("no frames decoded from %s", path)
	}
	return s, nil
}

// Frame returns the frame covering time t, clamped to the last decoded frame
// past the end of the file. The returned buffer is valid until the next
// Frame call; the draw loop hands it to the encoder before asking again.
func (s *VideoFrameSource) Frame(t float64) []byte {
	idx := frameIndex(t)

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx == s.curIdx {
		return s.cur
	}
	if idx < s.curIdx || (s.stream == nil && !s.ended) {
		if err := s.restart(idx); err != nil {
			log.Printf("Frame decode restart at %d failed, repeating last frame: %v", idx, err)
			return s.cur
		}
	}
	s.advanceTo(idx)
	return s.cur
}

// Bounds returns the frame dimensions.
func (s *VideoFrameSource) Bounds() (int, int) {
	return s.width, s.height
}

// Close reclaims any running decoder.
func (s *VideoFrameSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeStream()
}

// advanceTo reads forward until the stream has yielded frame idx, swapping
// between two reusable buffers. At end of stream the last decoded frame
// stays current. Must be called with mu held.
func (s *VideoFrameSource) advanceTo(idx int) bool {
	for !s.ended && s.next <= idx {
		if s.spare == nil {
			s.spare = make([]byte, s.frameBytes)
		}
		if _, err := io.ReadFull(s.stream, s.spare); err != nil {
			s.ended = true
			s.closeStream()
			break
		}
		s.cur, s.spare = s.spare, s.cur
		s.curIdx = s.next
		s.next++
	}
	return s.cur != nil
}

// restart points the decode at frame idx. Must be called with mu held.
func (s *VideoFrameSource) restart(idx int) error {
	s.closeStream()
	r, stop, err := s.open(idx)
	if err != nil {
		return err
	}
	s.stream = r
	s.stop = stop
	s.next = idx
	s.ended = false
	return nil
}

func (s *VideoFrameSource) closeStream() {
	if s.stream != nil {
		s.stream.Close()
	}
	if s.stop != nil {
		s.stop()
	}
	s.stream = nil
	s.stop = nil
}

// openFFmpegFrames execs a scaled rawvideo decode starting at the given
// frame's timestamp.
func openFFmpegFrames(ctx context.Context, path string, width, height, startFrame int) (io.ReadCloser, func(), error) {
	var args []string
	if startFrame > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.4f", float64(startFrame)/TargetFPS))
	}
	args = append(args,
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", fmt.Sprintf("%d", TargetFPS),
		"-an",
		"-loglevel", "error",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("ffmpeg frames: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("ffmpeg frames %s: %w", path, err)
	}
	stop := func() {
		cmd.Process.Kill()
		cmd.Wait()
	}
	return stdout, stop, nil
}
