package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	_ "golang.org/x/image/webp"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrDecode           = errors.New("failed to decode tile image")
)

// Fetcher loads and decodes the image behind a tile url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (image.Image, []byte, error)
}

type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(userAgent string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		userAgent: userAgent,
	}
}

var _ Fetcher = (*HTTPFetcher)(nil)

// Fetch issues a GET with the configured User-Agent. Anything but 200 with
// a decodable image body is an error.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (image.Image, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch tile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tile body: %w", err)
	}

	img, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}

	return img, data, nil
}

// Decode decodes png, jpeg, gif or webp tile bytes.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}
