package media

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// DownloadTimeout is the maximum time to wait for a file download
const DownloadTimeout = 30 * time.Second

var httpClient = &http.Client{Timeout: DownloadTimeout}

// Fetch downloads url enforcing the byte cap. A non-2xx status or an
// over-cap body returns an error; the caller aborts the turn.
func Fetch(url string, maxBytes int64) ([]byte, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download %s failed with status %d", url, resp.StatusCode)
	}

	// Known oversize up front
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: content-length %d > cap %d", ErrTooLarge, resp.ContentLength, maxBytes)
	}

	var reader io.Reader = resp.Body
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", url, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: body exceeds cap %d", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// CheckCap validates an already-downloaded blob (providers that hand us bytes
// directly, like whatsmeow, still honor the cap).
func CheckCap(data []byte, maxBytes int64) error {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return fmt.Errorf("%w: %d bytes > cap %d", ErrTooLarge, len(data), maxBytes)
	}
	return nil
}
