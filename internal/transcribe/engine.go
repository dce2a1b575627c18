// Package transcribe turns a media byte source into transcript text via a
// remote speech-recognition backend: either a self-hosted whisper-ASR server
// pool or an asynchronous cloud job API.
package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/notescribe/notescribe/internal/config"
	"github.com/notescribe/notescribe/internal/metrics"
	"github.com/notescribe/notescribe/internal/segment"
	"github.com/notescribe/notescribe/internal/source"
	"github.com/notescribe/notescribe/internal/tus"
)

// Engine identifies a transcription backend kind. A closed enum with switch
// dispatch keeps backend selection exhaustive at compile time.
type Engine int

const (
	EngineWhisper Engine = iota
	EngineCloud
)

func (e Engine) String() string {
	switch e {
	case EngineWhisper:
		return "whisper"
	case EngineCloud:
		return "cloud"
	}
	return fmt.Sprintf("Engine(%d)", int(e))
}

// ParseEngine maps a configuration string to an Engine.
func ParseEngine(s string) (Engine, error) {
	switch s {
	case "whisper":
		return EngineWhisper, nil
	case "cloud":
		return EngineCloud, nil
	}
	return 0, fmt.Errorf("unknown engine %q", s)
}

// Transcriber is the single entry point the CLI and watch mode call.
type Transcriber struct {
	engine  Engine
	whisper *WhisperClient
	cloud   *CloudClient
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New builds a Transcriber from configuration. creds may be nil for the
// whisper engine; m may be nil to skip counters.
func New(cfg *config.Config, creds Credentials, notify Notifier, m *metrics.Metrics, log zerolog.Logger) (*Transcriber, error) {
	engine, err := ParseEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}

	format, err := segment.ParseFormat(cfg.TimestampFormat)
	if err != nil {
		return nil, err
	}
	render := segment.Options{
		Format:   format,
		Interval: cfg.TimestampInterval,
	}
	if cfg.WordTimestamps {
		render.Granularity = segment.ByWord
	}

	t := &Transcriber{
		engine:  engine,
		metrics: m,
		log:     log.With().Str("component", "transcribe").Logger(),
	}

	switch engine {
	case EngineWhisper:
		t.whisper = NewWhisperClient(cfg.WhisperURLs, WhisperOpts{
			Translate:     cfg.Translate,
			Language:      cfg.Language,
			Encode:        cfg.Encode,
			VadFilter:     cfg.VadFilter,
			InitialPrompt: cfg.InitialPrompt,
			Timestamps:    cfg.Timestamps,
			Render:        render,
		}, log)
	case EngineCloud:
		if creds == nil {
			return nil, fmt.Errorf("cloud engine requires credentials")
		}
		uploader := tus.NewClient(cfg.CloudUploadURL, cfg.UploadChunkSize, log)
		opts := CloudOpts{
			Language:        cfg.Language,
			Translate:       cfg.Translate,
			Timestamps:      cfg.Timestamps,
			Render:          render,
			EmbedSummary:    cfg.EmbedSummary,
			EmbedOutline:    cfg.EmbedOutline,
			EmbedKeywords:   cfg.EmbedKeywords,
			EmbedLink:       cfg.EmbedLink,
			PollInterval:    cfg.PollInterval,
			PollMaxAttempts: cfg.PollMaxAttempts,
		}
		if m != nil {
			opts.OnUploadedBytes = func(n int64) { m.UploadBytes.Add(float64(n)) }
			opts.OnPollAttempt = func() { m.PollAttempts.Inc() }
		}
		t.cloud = NewCloudClient(cfg.CloudAPIURL, cfg.CloudUploadURL, uploader, creds, opts, notify, log)
	}

	return t, nil
}

// Engine returns the configured backend kind.
func (t *Transcriber) Engine() Engine { return t.engine }

// Transcribe dispatches to the configured backend and returns the finished
// transcript text.
func (t *Transcriber) Transcribe(ctx context.Context, src source.Source) (string, error) {
	var (
		text string
		err  error
	)
	switch t.engine {
	case EngineWhisper:
		text, err = t.whisper.Transcribe(ctx, src)
	case EngineCloud:
		text, err = t.cloud.Transcribe(ctx, src)
	default:
		err = fmt.Errorf("engine %v not wired", t.engine)
	}

	if t.metrics != nil {
		if err != nil {
			t.metrics.TranscriptionsFailed.WithLabelValues(failReason(err)).Inc()
		} else {
			t.metrics.TranscriptionsCompleted.Inc()
		}
	}
	return text, err
}

// failReason buckets an error for the failure counter label.
func failReason(err error) string {
	var backend *BackendError
	var timeout *PollTimeoutError
	switch {
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrNoSession):
		return "auth"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &backend):
		return "backend"
	}
	return "other"
}
