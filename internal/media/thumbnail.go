package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// Thumbnails fetches thumbnail images over plain HTTP.
type Thumbnails struct {
	client *http.Client
	log    *zap.SugaredLogger
}

func NewThumbnails(timeout time.Duration) *Thumbnails {
	return &Thumbnails{
		client: &http.Client{Timeout: timeout},
		log:    zap.S().Named("thumbnails"),
	}
}

// FetchThumbnail downloads the image at url to dest.
func (t *Thumbnails) FetchThumbnail(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch thumbnail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch thumbnail: HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dest)
		return err
	}
	t.log.Debugw("thumbnail saved", "url", url, "dest", dest)
	return nil
}
