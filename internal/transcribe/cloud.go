package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/notescribe/notescribe/internal/segment"
	"github.com/notescribe/notescribe/internal/source"
	"github.com/notescribe/notescribe/internal/tus"
)

// Credentials resolves the current cloud session. Token returns ErrNoSession
// when no valid session exists; the adapter never proceeds anonymously.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	UserID() string
}

// CloudOpts are the per-deployment options of the cloud job adapter.
type CloudOpts struct {
	Language  string // "auto" or "" omits the hint
	Translate bool

	Timestamps bool
	Render     segment.Options

	EmbedSummary  bool
	EmbedOutline  bool
	EmbedKeywords bool
	EmbedLink     bool

	PollInterval    time.Duration
	PollMaxAttempts int

	// Observation hooks for protocol activity counters. Optional.
	OnUploadedBytes func(n int64)
	OnPollAttempt   func()
}

// CloudClient transcribes via the asynchronous cloud job API: resumable
// upload to per-account storage, job creation, status polling, result
// composition.
type CloudClient struct {
	api        string
	uploadBase string
	uploader   *tus.Client
	creds      Credentials
	opts       CloudOpts
	notify     Notifier
	http       *http.Client
	log        zerolog.Logger
}

// NewCloudClient wires a cloud adapter. notify may be NopNotifier.
func NewCloudClient(api, uploadBase string, uploader *tus.Client, creds Credentials, opts CloudOpts, notify Notifier, log zerolog.Logger) *CloudClient {
	if notify == nil {
		notify = NopNotifier
	}
	return &CloudClient{
		api:        strings.TrimSuffix(api, "/"),
		uploadBase: strings.TrimSuffix(uploadBase, "/"),
		uploader:   uploader,
		creds:      creds,
		opts:       opts,
		notify:     notify,
		http:       &http.Client{Timeout: time.Minute},
		log:        log.With().Str("component", "cloud").Logger(),
	}
}

// Transcribe runs the full upload → create → poll → compose sequence for one
// source. Steps are strictly sequential; cancellation is honored after every
// long-running step so the caller's terminal side effect never runs for an
// abandoned operation.
func (cc *CloudClient) Transcribe(ctx context.Context, src source.Source) (string, error) {
	token, err := cc.creds.Token(ctx)
	if err != nil {
		return "", err
	}

	data, err := src.Data(ctx)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", src.DisplayName(), err)
	}

	name := tus.SanitizeKey(src.Name())
	key := cc.creds.UserID() + "/" + name

	cc.notify.Status("Uploading " + src.DisplayName())
	total := len(data)
	err = cc.uploader.Upload(ctx, key, data, token, func(sent, tot int64) {
		if tot > 0 {
			cc.notify.Progress(src.DisplayName(), int(sent*100/tot))
		}
	})
	if err != nil {
		return "", mapQuota(fmt.Errorf("upload %d bytes: %w", total, err))
	}
	if cc.opts.OnUploadedBytes != nil {
		cc.opts.OnUploadedBytes(int64(total))
	}

	if err := ctx.Err(); err != nil {
		return "", ErrCancelled
	}

	job, err := cc.createJob(ctx, token, name, key)
	if err != nil {
		return "", mapQuota(err)
	}
	cc.log.Info().Str("job_id", job.ID).Msg("transcription job created")

	cc.notify.Status("Transcribing " + src.DisplayName())
	enrichment := cc.opts.EmbedSummary || cc.opts.EmbedOutline || cc.opts.EmbedKeywords
	done, err := Poll(ctx, func(ctx context.Context) (*Job, error) {
		if cc.opts.OnPollAttempt != nil {
			cc.opts.OnPollAttempt()
		}
		return cc.fetchJob(ctx, token, job.ID)
	}, PollOptions{
		Interval:    cc.opts.PollInterval,
		MaxAttempts: cc.opts.PollMaxAttempts,
		Completed:   CompletedSet(enrichment),
		OnProgress: func(pct int) {
			cc.notify.Progress(src.DisplayName(), pct)
		},
	})
	if err != nil {
		return "", mapQuota(err)
	}

	if err := ctx.Err(); err != nil {
		return "", ErrCancelled
	}
	return cc.compose(done)
}

// createJob registers the uploaded object with the transcripts API. The
// object reference is constructed client-side from the upload base and key;
// the service resolves it through its own knowledge of the bucket layout.
func (cc *CloudClient) createJob(ctx context.Context, token, name, key string) (*Job, error) {
	payload := map[string]any{
		"name": name,
		"url":  cc.objectURL(key),
	}
	if lang := cc.opts.Language; lang != "" && lang != "auto" {
		payload["language"] = lang
	}
	if cc.opts.Translate {
		payload["translate"] = true
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cc.api+"/transcripts/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	job, err := cc.doJob(req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("create job: malformed response, missing id")
	}
	return job, nil
}

// objectURL is the reference the transcripts API resolves to the uploaded
// bytes. It is constructed client-side; if the service ever issues upload
// tickets instead, only this function changes.
func (cc *CloudClient) objectURL(key string) string {
	return cc.uploadBase + "/" + key
}

func (cc *CloudClient) fetchJob(ctx context.Context, token, id string) (*Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cc.api+"/transcripts/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	job, err := cc.doJob(req)
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", id, err)
	}
	return job, nil
}

func (cc *CloudClient) doJob(req *http.Request) (*Job, error) {
	resp, err := cc.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		return nil, ErrQuotaExceeded
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("cloud API error (status %d): %s", resp.StatusCode, string(raw))
	}

	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// compose renders the finished job into a note body: the transcript itself,
// then the enrichment sections the configuration asks for.
func (cc *CloudClient) compose(job *Job) (string, error) {
	text := strings.TrimSpace(job.Text)

	if cc.opts.Timestamps && len(job.TextSegments) > 0 {
		segs, err := segment.Parse(job.TextSegments)
		if err != nil {
			return "", fmt.Errorf("normalize segments: %w", err)
		}
		text = segment.Render(segs, cc.opts.Render)
	}
	if text == "" && len(job.TextSegments) == 0 {
		return "", fmt.Errorf("malformed job payload: no transcript on completed job %s", job.ID)
	}

	var b strings.Builder
	b.WriteString(text)

	if cc.opts.EmbedSummary && strings.TrimSpace(job.Summary) != "" {
		b.WriteString("\n\n## Summary\n")
		b.WriteString(strings.TrimSpace(job.Summary))
	}

	if cc.opts.EmbedOutline && len(job.HeadingSegments) > 0 {
		headings, err := segment.Parse(job.HeadingSegments)
		if err != nil {
			return "", fmt.Errorf("normalize headings: %w", err)
		}
		if len(headings) > 0 {
			b.WriteString("\n\n## Outline\n")
			for i, h := range headings {
				if i > 0 {
					b.WriteString("\n")
				}
				b.WriteString("- " + strings.TrimSpace(h.Text))
			}
		}
	}

	if cc.opts.EmbedKeywords && len(job.Keywords) > 0 {
		b.WriteString("\n\n## Keywords\n")
		b.WriteString(strings.Join(job.Keywords, ", "))
	}

	if cc.opts.EmbedLink {
		b.WriteString(fmt.Sprintf("\n\n[View transcript](%s/transcripts/%s)", cc.api, job.ID))
	}

	return b.String(), nil
}

// mapQuota folds an HTTP 402 from any step into the dedicated quota error.
func mapQuota(err error) error {
	var se *tus.StatusError
	if errors.As(err, &se) && se.Code == http.StatusPaymentRequired {
		return ErrQuotaExceeded
	}
	return err
}
