package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/notescribe/notescribe/internal/formdata"
	"github.com/notescribe/notescribe/internal/segment"
	"github.com/notescribe/notescribe/internal/source"
)

// WhisperOpts are per-deployment options for self-hosted whisper-ASR servers.
// Fields at their defaults are omitted from the request query to keep the
// request surface minimal.
type WhisperOpts struct {
	Translate     bool
	Language      string // "auto" or "" means let the server detect
	Encode        bool   // server default is true; only sent when false
	VadFilter     bool
	InitialPrompt string

	Timestamps bool
	Render     segment.Options
}

// WhisperClient calls one or more self-hosted whisper-ASR endpoints, tried in
// order until one succeeds. Multiple URLs give simple failover across
// mirrored or backup servers.
type WhisperClient struct {
	urls []string
	opts WhisperOpts
	http *http.Client
	log  zerolog.Logger
}

// whisperResponse is the ASR server's JSON body. Text is a pointer so a
// missing field is distinguishable from an empty transcript.
type whisperResponse struct {
	Text     *string         `json:"text"`
	Segments json.RawMessage `json:"segments"`
}

// NewWhisperClient creates a client over the configured server list.
func NewWhisperClient(urls []string, opts WhisperOpts, log zerolog.Logger) *WhisperClient {
	return &WhisperClient{
		urls: urls,
		opts: opts,
		http: &http.Client{Timeout: 10 * time.Minute},
		log:  log.With().Str("component", "whisper").Logger(),
	}
}

// Transcribe uploads the source's bytes to the first healthy server and
// returns the rendered transcript. If every server fails the aggregate error
// carries each endpoint's failure.
func (wc *WhisperClient) Transcribe(ctx context.Context, src source.Source) (string, error) {
	data, err := src.Data(ctx)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", src.DisplayName(), err)
	}

	var failures []error
	for _, base := range wc.urls {
		text, err := wc.transcribeAt(ctx, base, data)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", ErrCancelled
			}
			wc.log.Warn().Err(err).Str("url", base).Msg("asr endpoint failed, trying next")
			failures = append(failures, fmt.Errorf("%s: %w", base, err))
			continue
		}
		return text, nil
	}

	return "", fmt.Errorf("all %d asr endpoints failed: %w", len(wc.urls), errors.Join(failures...))
}

func (wc *WhisperClient) transcribeAt(ctx context.Context, base string, audio []byte) (string, error) {
	// Fresh multipart body per request: the boundary token must never be
	// shared between calls.
	var fields formdata.Fields
	fields.AddBytes("audio_file", audio)
	body, boundary, err := formdata.Encode(&fields)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.requestURL(base), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", formdata.ContentType(boundary))

	resp, err := wc.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("asr request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("asr error (status %d): %s", resp.StatusCode, string(raw))
	}

	var parsed whisperResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Text == nil && parsed.Segments == nil {
		return "", fmt.Errorf("malformed asr response: no text or segments field")
	}

	if wc.opts.Timestamps && parsed.Segments != nil {
		segs, err := segment.Parse(parsed.Segments)
		if err != nil {
			return "", fmt.Errorf("normalize segments: %w", err)
		}
		return segment.Render(segs, wc.opts.Render), nil
	}

	if parsed.Text == nil {
		return "", fmt.Errorf("malformed asr response: missing text field")
	}
	return strings.TrimSpace(*parsed.Text), nil
}

// requestURL assembles the /asr query. Only parameters that differ from the
// server defaults are appended.
func (wc *WhisperClient) requestURL(base string) string {
	q := url.Values{}
	if wc.opts.Translate {
		q.Set("task", "translate")
	} else {
		q.Set("task", "transcribe")
	}
	if lang := wc.opts.Language; lang != "" && lang != "auto" {
		q.Set("language", lang)
	}
	if !wc.opts.Encode {
		q.Set("encode", "false")
	}
	if wc.opts.VadFilter {
		q.Set("vad_filter", "true")
	}
	if wc.opts.InitialPrompt != "" {
		q.Set("initial_prompt", wc.opts.InitialPrompt)
	}
	q.Set("output", "json")
	if wc.opts.Timestamps {
		q.Set("word_timestamps", "true")
	}
	return strings.TrimSuffix(base, "/") + "/asr?" + q.Encode()
}
