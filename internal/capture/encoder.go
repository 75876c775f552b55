package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"overdub/internal/audio"
)

// Encoder accepts raw video frames and PCM audio and emits one finished
// media payload. Implementations must preserve chunk arrival order.
type Encoder interface {
	Start(ctx context.Context, f Format) error
	WriteFrame(rgb []byte) error
	WritePCM(frame []int16) error
	Stop() ([]byte, error)
}

// FFmpegEncoder muxes rawvideo (stdin) and s16le PCM (fd 3) into the
// negotiated container on stdout. Encoded chunks are buffered append-only by
// a single reader goroutine and concatenated on Stop.
type FFmpegEncoder struct {
	width, height int

	mu       sync.Mutex
	cmd      *exec.Cmd
	video    io.WriteCloser
	audioW   *os.File
	chunks   [][]byte
	readDone chan struct{}
}

// NewFFmpegEncoder creates an encoder for frames of the given size.
func NewFFmpegEncoder(width, height int) *FFmpegEncoder {
	return &FFmpegEncoder{width: width, height: height}
}

// Start launches the FFmpeg mux process for the negotiated format.
func (e *FFmpegEncoder) Start(ctx context.Context, f Format) error {
	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", e.width, e.height),
		"-r", fmt.Sprintf("%d", TargetFPS),
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"-i", "pipe:3",
		"-c:v", f.VideoCodec,
		"-c:a", f.AudioCodec,
		"-shortest",
	}
	args = append(args, f.Flags...)
	args = append(args, "-f", f.Container, "-loglevel", "error", "pipe:1")

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	video, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("video pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	audioR, audioW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("audio pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{audioR} // becomes fd 3 in the child

	if err := cmd.Start(); err != nil {
		audioR.Close()
		audioW.Close()
		return fmt.Errorf("ffmpeg start: %w", err)
	}
	audioR.Close() // parent keeps only the write end

	e.mu.Lock()
	e.cmd = cmd
	e.video = video
	e.audioW = audioW
	e.chunks = nil
	e.readDone = make(chan struct{})
	e.mu.Unlock()

	// Single writer to the chunk sequence, append-only in arrival order.
	go func() {
		defer close(e.readDone)
		buf := make([]byte, 64*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				e.mu.Lock()
				e.chunks = append(e.chunks, chunk)
				e.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()

	return nil
}

// WriteFrame pushes one raw RGB frame into the muxer.
func (e *FFmpegEncoder) WriteFrame(rgb []byte) error {
	if _, err := e.video.Write(rgb); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// WritePCM pushes one mixed 20ms PCM frame into the muxer.
func (e *FFmpegEncoder) WritePCM(frame []int16) error {
	if _, err := e.audioW.Write(audio.SamplesToBytes(frame)); err != nil {
		return fmt.Errorf("write pcm: %w", err)
	}
	return nil
}

// Stop closes both inputs, waits for FFmpeg to flush, and returns the
// concatenated payload.
func (e *FFmpegEncoder) Stop() ([]byte, error) {
	e.video.Close()
	e.audioW.Close()
	<-e.readDone

	waitErr := e.cmd.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	if waitErr != nil {
		return nil, fmt.Errorf("ffmpeg finalize: %w", waitErr)
	}

	total := 0
	for _, c := range e.chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range e.chunks {
		out = append(out, c...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("encoder produced no output")
	}
	return out, nil
}
