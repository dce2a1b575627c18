package transcribe

import "encoding/json"

// Status is the lifecycle stage of a server-side transcription job. The
// client only ever reads job state; all transitions happen on the server.
type Status string

const (
	StatusPending          Status = "pending"
	StatusTranscribing     Status = "transcribing"
	StatusTranscribed      Status = "transcribed"
	StatusComplete         Status = "complete"
	StatusFailed           Status = "failed"
	StatusValidationFailed Status = "validation_failed"
)

// TerminalFailure reports whether s is a server-confirmed failure state.
func (s Status) TerminalFailure() bool {
	return s == StatusFailed || s == StatusValidationFailed
}

// Job is the cloud service's view of one transcription work unit. Segment
// arrays stay raw until the preprocessor normalizes their encoding.
type Job struct {
	ID       string `json:"id"`
	Status   Status `json:"status"`
	Progress *int   `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`

	Text            string          `json:"text,omitempty"`
	TextSegments    json.RawMessage `json:"text_segments,omitempty"`
	HeadingSegments json.RawMessage `json:"heading_segments,omitempty"`
	Summary         string          `json:"summary,omitempty"`
	Keywords        []string        `json:"keywords,omitempty"`
}
