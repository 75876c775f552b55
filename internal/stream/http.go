package stream

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"

	"overdub/internal/audio"
)

// mp3Bitrate is the narration stream's encode rate.
const mp3Bitrate = "192k"

// HTTPHandler serves the narration mix as a chunked MP3 stream. Each
// connection gets its own FFmpeg encoder fed from a fresh broadcaster
// subscription, so one listener's pace never affects another's.
type HTTPHandler struct {
	broadcaster *Broadcaster
}

// NewHTTPHandler creates the MP3 stream handler over a broadcaster.
func NewHTTPHandler(b *Broadcaster) *HTTPHandler {
	return &HTTPHandler{broadcaster: b}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "overdub narration")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", mp3EncodeArgs()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Printf("Narration stream: stdin pipe error: %v", err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Printf("Narration stream: stdout pipe error: %v", err)
		return
	}
	if err := cmd.Start(); err != nil {
		log.Printf("Narration stream: ffmpeg start error: %v", err)
		return
	}

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	log.Printf("Narration listener connected (total: %d)", h.broadcaster.ListenerCount())
	defer log.Printf("Narration listener disconnected")

	go feedEncoder(ctx, listener, stdin)

	// Relay encoded MP3 to the response as it arrives.
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("Narration stream: ffmpeg read error: %v", err)
			}
			break
		}
	}

	cmd.Wait()
}

// mp3EncodeArgs builds the real-time PCM stdin to MP3 stdout encode.
func mp3EncodeArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", audio.SampleRate),
		"-ac", fmt.Sprintf("%d", audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", mp3Bitrate,
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

// feedEncoder forwards the listener's narration frames into the encoder
// until the connection or the subscription ends.
func feedEncoder(ctx context.Context, l *Listener, stdin io.WriteCloser) {
	defer stdin.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}
