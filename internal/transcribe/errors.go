package transcribe

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoSession means the cloud engine has no usable credential. Fatal for the
// current operation; the user must sign in again before retrying.
var ErrNoSession = errors.New("not signed in to the cloud service; sign in and retry")

// ErrQuotaExceeded maps HTTP 402 from the cloud service. It gets its own
// message because the fix (upgrade the plan) differs from every other failure.
var ErrQuotaExceeded = errors.New("transcription quota exceeded; upgrade your cloud plan to continue")

// ErrCancelled marks a user-initiated stop. The operation was abandoned, not
// failed: no result exists and no terminal side effect may run.
var ErrCancelled = errors.New("transcription cancelled")

// BackendError is a terminal failure reported by the remote service. The
// server's semantic distinction (invalid input vs generic processing failure)
// is preserved in Status.
type BackendError struct {
	Status  Status
	Message string
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend reported %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend reported %s", e.Status)
}

// PollTimeoutError means the poll budget ran out before the job reached a
// terminal state. Unlike BackendError this is an unknown outcome, not a
// confirmed failure.
type PollTimeoutError struct {
	Attempts int
	Interval time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("job not finished after %d polls (%s apart); giving up", e.Attempts, e.Interval)
}
