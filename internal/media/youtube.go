package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/kkdai/youtube/v2"
	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper"
)

// YouTube implements Extractor and Fetcher on top of the youtube client
// library.
type YouTube struct {
	log *zap.SugaredLogger
	// Progress, when set, wraps the download stream (e.g. with a progress
	// bar reader). expected is the total byte count reported by the remote.
	Progress func(expected int64, r io.Reader) io.Reader
}

func NewYouTube() *YouTube {
	return &YouTube{log: zap.S().Named("youtube")}
}

// Extract resolves metadata for a watch URL. Scheduled premieres resolve to
// (nil, nil); permanently unavailable items resolve to ErrVideoUnavailable.
func (y *YouTube) Extract(ctx context.Context, url string) (*Info, error) {
	client := youtube.Client{}
	video, err := client.GetVideoContext(ctx, url)
	if err != nil {
		if isPremiereError(err) {
			return nil, nil
		}
		if isUnavailableError(err) {
			return nil, fmt.Errorf("%w: %v", vodkeeper.ErrVideoUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", vodkeeper.ErrExtractionFailed, err)
	}
	return &Info{
		ID:       video.ID,
		Title:    video.Title,
		Channel:  video.Author,
		IsLive:   video.HLSManifestURL != "" && video.Duration == 0,
		Duration: video.Duration,
	}, nil
}

// Fetch downloads the best audio-capable format for the watch URL to dest.
func (y *YouTube) Fetch(ctx context.Context, url, dest, userAgent string) (int64, error) {
	client := youtube.Client{
		HTTPClient: &http.Client{Transport: &userAgentTransport{agent: userAgent}},
	}
	video, err := client.GetVideoContext(ctx, url)
	if err != nil {
		if isUnavailableError(err) {
			return 0, fmt.Errorf("%w: %v", vodkeeper.ErrVideoUnavailable, err)
		}
		return 0, fmt.Errorf("failed to get video info: %w", err)
	}

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return 0, fmt.Errorf("no downloadable format for %s", video.ID)
	}
	format := &formats[0]

	stream, size, err := client.GetStreamContext(ctx, video, format)
	if err != nil {
		if isRateLimitError(err) {
			return 0, fmt.Errorf("%w: %v", vodkeeper.ErrRateLimited, err)
		}
		return 0, fmt.Errorf("failed to get stream: %w", err)
	}
	defer stream.Close()

	var reader io.Reader = &readerContext{ctx: ctx, r: stream}
	if y.Progress != nil {
		reader = y.Progress(size, reader)
	}

	written, err := saveStream(dest, reader)
	if err != nil {
		return written, fmt.Errorf("failed to save stream: %w", err)
	}
	y.log.Debugw("stream saved", "dest", dest, "bytes", written)
	return written, nil
}

// saveStream writes the stream to a temp file next to dest and renames it
// into place, so a partial download never occupies the final path.
func saveStream(dest string, r io.Reader) (int64, error) {
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return written, err
	}
	return written, os.Rename(tmp, dest)
}

type userAgentTransport struct {
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.agent != "" {
		req.Header.Set("User-Agent", t.agent)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// A context-aware io.Reader wrapper.
type readerContext struct {
	ctx context.Context
	r   io.Reader
}

func (r *readerContext) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func isPremiereError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "premiere") || strings.Contains(msg, "upcoming") ||
		strings.Contains(msg, "live stream is offline")
}

func isUnavailableError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"private", "unavailable", "not found", "removed", "deleted", "terminated"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}
