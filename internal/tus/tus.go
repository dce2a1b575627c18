// Package tus implements the client half of the tus resumable upload
// protocol: one creation POST, then sequential PATCH chunks with offset
// bookkeeping, per-chunk retry, and progress reporting.
package tus

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const tusVersion = "1.0.0"

// DefaultChunkSize is 6 MiB, a hard limit of the reference storage tier —
// larger chunks are rejected outright.
const DefaultChunkSize int64 = 6 * 1024 * 1024

// defaultBackoff is the wait before each retry: the first retry is
// immediate, then the schedule grows.
var defaultBackoff = []time.Duration{0, 3 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second}

// ProgressFunc receives bytes-sent and bytes-total after each acknowledged
// chunk. It runs on the upload goroutine and must not block.
type ProgressFunc func(sent, total int64)

// StatusError is a non-2xx response from the upload endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upload endpoint returned status %d: %s", e.Code, e.Body)
}

// Client uploads byte payloads to a tus-compatible storage endpoint.
type Client struct {
	base      string
	chunkSize int64
	backoff   []time.Duration
	http      *http.Client
	log       zerolog.Logger
}

// NewClient creates an upload client for the given creation endpoint.
// chunkSize <= 0 selects DefaultChunkSize.
func NewClient(base string, chunkSize int64, log zerolog.Logger) *Client {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Client{
		base:      base,
		chunkSize: chunkSize,
		backoff:   defaultBackoff,
		http:      &http.Client{Timeout: 2 * time.Minute},
		log:       log.With().Str("component", "tus").Logger(),
	}
}

// Upload sends data to the endpoint under the given object key. The bearer
// token authenticates every request. Success means the endpoint acknowledged
// the final chunk; there is no response payload, the key is already known to
// the caller.
func (c *Client) Upload(ctx context.Context, key string, data []byte, token string, progress ProgressFunc) error {
	total := int64(len(data))

	uploadURL, err := c.create(ctx, key, total, token)
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	c.log.Debug().Str("key", key).Int64("bytes", total).Msg("upload created")

	var offset int64
	for offset < total {
		end := offset + c.chunkSize
		if end > total {
			end = total
		}

		next, err := c.patchChunk(ctx, uploadURL, offset, data[offset:end], token)
		if err != nil {
			return fmt.Errorf("chunk at offset %d: %w", offset, err)
		}
		offset = next

		if progress != nil {
			progress(offset, total)
		}
	}

	c.log.Debug().Str("key", key).Msg("upload complete")
	return nil
}

// create issues the tus creation request and resolves the upload URL from the
// Location header (which may be relative to the creation endpoint).
func (c *Client) create(ctx context.Context, key string, length int64, token string) (string, error) {
	var location string
	err := c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Tus-Resumable", tusVersion)
		req.Header.Set("Upload-Length", strconv.FormatInt(length, 10))
		req.Header.Set("Upload-Metadata", encodeMetadata(map[string]string{
			"filename":   key,
			"objectName": key,
		}))
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			return statusError(resp)
		}
		loc := resp.Header.Get("Location")
		if loc == "" {
			return fmt.Errorf("creation response missing Location header")
		}
		location, err = resolveLocation(c.base, loc)
		return err
	})
	return location, err
}

// patchChunk sends one chunk and returns the server's new offset.
func (c *Client) patchChunk(ctx context.Context, uploadURL string, offset int64, chunk []byte, token string) (int64, error) {
	var next int64
	err := c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, uploadURL, bytes.NewReader(chunk))
		if err != nil {
			return err
		}
		req.Header.Set("Tus-Resumable", tusVersion)
		req.Header.Set("Upload-Offset", strconv.FormatInt(offset, 10))
		req.Header.Set("Content-Type", "application/offset+octet-stream")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			return statusError(resp)
		}
		if v := resp.Header.Get("Upload-Offset"); v != "" {
			next, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("bad Upload-Offset %q: %w", v, err)
			}
		} else {
			next = offset + int64(len(chunk))
		}
		return nil
	})
	return next, err
}

// withRetry runs fn, retrying transient failures (network errors, 5xx, 429)
// per the backoff schedule. Other HTTP failures propagate immediately.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var last error
	for attempt := 0; attempt <= len(c.backoff); attempt++ {
		if attempt > 0 {
			wait := c.backoff[attempt-1]
			c.log.Warn().Err(last).Dur("wait", wait).Int("attempt", attempt).Msg("retrying upload request")
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}

		last = fn()
		if last == nil {
			return nil
		}
		if !transient(last) {
			return last
		}
	}
	return fmt.Errorf("retries exhausted: %w", last)
}

func transient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	// Network-level failures are transient by default.
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}

func resolveLocation(base, loc string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	l, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("bad Location %q: %w", loc, err)
	}
	return b.ResolveReference(l).String(), nil
}

// encodeMetadata renders the Upload-Metadata header: comma-separated
// "key base64(value)" pairs. Order is fixed for reproducibility.
func encodeMetadata(meta map[string]string) string {
	keys := []string{"filename", "objectName"}
	var out []byte
	for _, k := range keys {
		v, ok := meta[k]
		if !ok {
			continue
		}
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, k...)
		out = append(out, ' ')
		out = append(out, base64.StdEncoding.EncodeToString([]byte(v))...)
	}
	return string(out)
}

// SanitizeKey rewrites a filename into a storage-safe object key: every
// character outside [A-Za-z0-9.] becomes a hyphen.
func SanitizeKey(name string) string {
	out := []byte(name)
	for i, c := range out {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.':
		default:
			out[i] = '-'
		}
	}
	return string(out)
}
