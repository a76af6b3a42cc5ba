package util

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrNoVideoID = errors.New("cannot extract video ID")

// VideoID extracts the video identifier from a watch URL.
//
// Allowed URL formats:
//		http(s?)://(www|m).youtube.com/(watch|details)?v={VIDEO_ID}
//		http(s?)://(www|m).youtube.com/v/{VIDEO_ID}
//		http(s?)://youtu.be/{VIDEO_ID}
func VideoID(s string) (string, error) {
	parsed, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	var id string
	switch parsed.Hostname() {
	case "www.youtube.com", "m.youtube.com", "youtube.com":
		if strings.HasPrefix(parsed.Path, "/v/") {
			id = strings.SplitN(parsed.Path, "/", 3)[2]
		} else if parsed.Path == "/watch" || parsed.Path == "/details" {
			id = parsed.Query().Get("v")
		}
	case "youtu.be":
		id = strings.Trim(parsed.Path, "/")
	default:
		// Generic fallback: anything with a ?v= parameter.
		id = parsed.Query().Get("v")
	}
	if id == "" {
		return "", fmt.Errorf("%w from %q", ErrNoVideoID, s)
	}
	return id, nil
}

// MediaFilename derives the deterministic local media filename for a watch
// URL. Concurrent workers never collide because the URL is unique per job.
func MediaFilename(videoURL string) (string, error) {
	id, err := VideoID(videoURL)
	if err != nil {
		return "", err
	}
	return id + ".mp4", nil
}

// ThumbnailFilename derives the local thumbnail filename for a watch URL.
func ThumbnailFilename(videoURL string) (string, error) {
	id, err := VideoID(videoURL)
	if err != nil {
		return "", err
	}
	return id + ".jpg", nil
}

// StemOf strips the extension from a derived filename, giving the bare path
// an extension-less partial download would have been written to.
func StemOf(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx > 0 {
		return filename[:idx]
	}
	return filename
}
