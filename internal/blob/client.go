package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/safechat/internal/errs"
)

// Uploader turns bytes into a retrievable URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte) (string, error)
}

// Downloader fetches bytes behind a URL produced by an Uploader.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Client talks to a Handler over HTTP.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient returns a client for the blob server at base.
func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: time.Minute}
	}
	return &Client{base: strings.TrimRight(base, "/"), hc: hc}
}

// Upload posts data and returns its URL. Any failure matches ErrUpload.
func (c *Client) Upload(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/blobs", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrUpload, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrUpload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: status %d", errs.ErrUpload, resp.StatusCode)
	}
	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.URL == "" {
		return "", fmt.Errorf("%w: bad response", errs.ErrUpload)
	}
	return out.URL, nil
}

// Download fetches url. The fragment, if any, is not sent.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, errs.ErrNotFound
	default:
		return nil, fmt.Errorf("download: status %d", resp.StatusCode)
	}
}
