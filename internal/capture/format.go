package capture

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrUnsupported means the local runtime can encode none of the preferred
// output formats. Fatal to export only; live playback is unaffected.
var ErrUnsupported = errors.New("no supported capture format")

// Format is one negotiable output container/codec combination.
type Format struct {
	MIME       string
	Ext        string   // derived from the container family
	Container  string   // ffmpeg muxer name
	VideoCodec string   // ffmpeg encoder name
	AudioCodec string   // ffmpeg encoder name
	Flags      []string // extra output flags the container needs
}

// Preferences is the negotiation order, most preferred first. The chosen
// entry is tagged onto the finished artifact's declared type and extension.
var Preferences = []Format{
	{
		MIME:       "video/mp4;codecs=h264,aac",
		Ext:        ".mp4",
		Container:  "mp4",
		VideoCodec: "libx264",
		AudioCodec: "aac",
		// mp4 needs fragmented output to stream through a pipe
		Flags: []string{"-movflags", "frag_keyframe+empty_moov"},
	},
	{
		MIME:       "video/mp4",
		Ext:        ".mp4",
		Container:  "mp4",
		VideoCodec: "mpeg4",
		AudioCodec: "aac",
		Flags:      []string{"-movflags", "frag_keyframe+empty_moov"},
	},
	{
		MIME:       "video/webm;codecs=vp9,opus",
		Ext:        ".webm",
		Container:  "webm",
		VideoCodec: "libvpx-vp9",
		AudioCodec: "libopus",
	},
	{
		MIME:       "video/webm",
		Ext:        ".webm",
		Container:  "webm",
		VideoCodec: "libvpx",
		AudioCodec: "libvorbis",
	},
}

// Negotiate asks the local FFmpeg which encoders it carries and returns the
// first preference it can serve.
func Negotiate(ctx context.Context) (Format, error) {
	out, err := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-encoders").Output()
	if err != nil {
		return Format{}, fmt.Errorf("probe encoders: %w", err)
	}
	return negotiate(string(out))
}

func negotiate(encoders string) (Format, error) {
	for _, f := range Preferences {
		if hasEncoder(encoders, f.VideoCodec) && hasEncoder(encoders, f.AudioCodec) {
			return f, nil
		}
	}
	return Format{}, ErrUnsupported
}

// hasEncoder matches an encoder name as its own column in `ffmpeg -encoders`
// output, avoiding substring hits like "aac" inside "aac_at".
func hasEncoder(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}
