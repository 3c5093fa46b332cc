package setup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"
)

// DownloadProgress reports model download state. Percent is -1 when the
// server does not announce a content length.
type DownloadProgress struct {
	Percent    int
	Downloaded int64
	Total      int64
}

// DownloadModel fetches the model artifact to dest, retrying transient HTTP
// failures and reporting progress as bytes arrive. The file is written to a
// temporary name and renamed into place only on success, so an interrupted
// download never leaves a truncated model behind.
func DownloadModel(ctx context.Context, url, dest string, progress func(DownloadProgress)) error {
	client := retryablehttp.NewClient()
	client.Logger = nil

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("downloading model: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating model dir: %w", err)
	}
	tmp := dest + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}

	counter := &progressWriter{total: resp.ContentLength, progress: progress}
	_, err = io.Copy(io.MultiWriter(f, counter), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing model: %w", err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("moving model into place: %w", err)
	}
	return nil
}

type progressWriter struct {
	downloaded int64
	total      int64
	progress   func(DownloadProgress)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.downloaded += int64(len(p))
	if w.progress != nil {
		percent := -1
		if w.total > 0 {
			percent = int(w.downloaded * 100 / w.total)
		}
		w.progress(DownloadProgress{Percent: percent, Downloaded: w.downloaded, Total: w.total})
	}
	return len(p), nil
}
