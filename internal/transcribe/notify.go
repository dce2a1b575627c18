package transcribe

// Notifier is the side channel for user-visible status while a transcription
// runs: upload progress, poll progress, backend switches. It is never used to
// resolve or fail an operation.
type Notifier interface {
	Status(msg string)
	Progress(name string, pct int)
}

type nopNotifier struct{}

func (nopNotifier) Status(string)        {}
func (nopNotifier) Progress(string, int) {}

// NopNotifier discards all notifications.
var NopNotifier Notifier = nopNotifier{}
