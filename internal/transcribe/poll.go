package transcribe

import (
	"context"
	"fmt"
	"time"
)

// PollOptions configure the status polling loop for one job.
type PollOptions struct {
	// Interval between status fetches. The first fetch is immediate.
	Interval time.Duration
	// MaxAttempts bounds the number of fetches before giving up.
	MaxAttempts int
	// Completed is the set of statuses treated as terminal success. When
	// enrichment (summary/outline/keywords) is requested this must be
	// narrowed to StatusComplete only, since enrichment lands after basic
	// transcription finishes.
	Completed map[Status]bool
	// OnProgress receives the job's progress percentage from intermediate
	// responses. Optional.
	OnProgress func(pct int)
}

// CompletedSet returns the terminal-success statuses for a job, narrowed to
// StatusComplete when any enrichment is requested.
func CompletedSet(enrichment bool) map[Status]bool {
	if enrichment {
		return map[Status]bool{StatusComplete: true}
	}
	return map[Status]bool{StatusTranscribed: true, StatusComplete: true}
}

// Poll drives fetch until the job reaches a terminal state or the attempt
// budget runs out. Server-reported failures become *BackendError, an
// exhausted budget becomes *PollTimeoutError, and context cancellation stops
// the loop before any further fetch, returning ErrCancelled. The interval
// timer is released on every exit path.
func Poll(ctx context.Context, fetch func(context.Context) (*Job, error), opts PollOptions) (*Job, error) {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 20
	}
	if len(opts.Completed) == 0 {
		opts.Completed = CompletedSet(false)
	}

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, ErrCancelled
		}

		job, err := fetch(ctx)
		if err != nil {
			// A fetch aborted by cancellation is the caller stopping, not a
			// backend problem.
			if ctx.Err() != nil {
				return nil, ErrCancelled
			}
			return nil, fmt.Errorf("poll attempt %d: %w", attempt, err)
		}

		switch {
		case job.Status.TerminalFailure():
			return nil, &BackendError{Status: job.Status, Message: job.Error}
		case opts.Completed[job.Status]:
			return job, nil
		}

		if job.Progress != nil && opts.OnProgress != nil {
			opts.OnProgress(*job.Progress)
		}

		if attempt == opts.MaxAttempts {
			break
		}

		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ErrCancelled
		case <-timer.C:
		}
	}

	return nil, &PollTimeoutError{Attempts: opts.MaxAttempts, Interval: opts.Interval}
}
