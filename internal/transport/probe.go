package transport

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeDuration returns a media file's duration in seconds via ffprobe.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration of %s: %w", path, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("non-positive duration for %s", path)
	}
	return duration, nil
}
