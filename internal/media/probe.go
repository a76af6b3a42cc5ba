package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// FFProbe reads media durations via the ffprobe binary.
type FFProbe struct {
	// Binary overrides the ffprobe executable name; empty means "ffprobe"
	// from PATH.
	Binary string
}

func NewFFProbe() *FFProbe {
	return &FFProbe{}
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		Duration string `json:"duration,omitempty"`
	} `json:"streams"`
}

// Duration probes the media file and returns its duration.
func (p *FFProbe) Duration(ctx context.Context, path string) (time.Duration, error) {
	binary := p.Binary
	if binary == "" {
		binary = "ffprobe"
	}
	out, err := exec.CommandContext(ctx, binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	if seconds, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	// Some containers only carry duration on a stream.
	for _, stream := range probed.Streams {
		if seconds, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
			return time.Duration(seconds * float64(time.Second)), nil
		}
	}
	return 0, fmt.Errorf("no duration in ffprobe output for %s", path)
}
