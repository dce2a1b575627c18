// Package watch transcribes media files as they appear in a directory. Each
// new file gets a sibling markdown file holding its transcript.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/notescribe/notescribe/internal/source"
)

// Transcriber is the subset of the transcription entry point watch mode needs.
type Transcriber interface {
	Transcribe(ctx context.Context, src source.Source) (string, error)
}

// Watcher monitors one directory for new media files.
type Watcher struct {
	dir  string
	exts []string
	tr   Transcriber
	log  zerolog.Logger

	// settle is how long a new file must sit before it is read, so a
	// recorder still flushing data is not picked up half-written.
	settle time.Duration
}

func New(dir string, exts []string, tr Transcriber, log zerolog.Logger) *Watcher {
	return &Watcher{
		dir:    dir,
		exts:   exts,
		tr:     tr,
		log:    log.With().Str("component", "watch").Logger(),
		settle: 500 * time.Millisecond,
	}
}

// Run watches until the context is cancelled. Per-file failures are logged
// and skipped; only watcher setup problems are fatal.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info().Str("dir", w.dir).Msg("watching for new media files")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.wants(event) {
				continue
			}
			if err := w.handle(ctx, event.Name); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.log.Error().Err(err).Str("file", event.Name).Msg("transcription failed")
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) wants(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) {
		return false
	}
	if strings.HasSuffix(event.Name, ".tmp") {
		return false
	}
	return source.IsMedia(filepath.Base(event.Name), w.exts)
}

func (w *Watcher) handle(ctx context.Context, path string) error {
	// Give the writer a moment to finish the file.
	timer := time.NewTimer(w.settle)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}

	name := filepath.Base(path)
	w.log.Info().Str("file", name).Msg("new media file")

	text, err := w.tr.Transcribe(ctx, source.NewLocalFile(path))
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".md"
	body := fmt.Sprintf("# %s\n\n%s\n", name, text)
	if err := os.WriteFile(out, []byte(body), 0644); err != nil {
		return fmt.Errorf("write transcript %s: %w", out, err)
	}
	w.log.Info().Str("file", out).Msg("transcript written")
	return nil
}
