package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/notescribe/notescribe/internal/auth"
	"github.com/notescribe/notescribe/internal/config"
	"github.com/notescribe/notescribe/internal/metrics"
	"github.com/notescribe/notescribe/internal/note"
	"github.com/notescribe/notescribe/internal/source"
	"github.com/notescribe/notescribe/internal/transcribe"
	"github.com/notescribe/notescribe/internal/watch"
)

var version = "dev"

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var (
		notePath    = flag.String("note", "", "markdown note whose linked media get transcribed and spliced in")
		files       stringList
		rawURL      = flag.String("url", "", "transcribe a remote media URL and print the transcript")
		watchDir    = flag.String("watch", "", "watch a directory and transcribe new media files")
		login       = flag.Bool("login", false, "sign in to the cloud backend and store the session")
		engine      = flag.String("engine", "", "transcription engine (whisper or cloud)")
		notesDir    = flag.String("notes-dir", "", "root directory media links resolve against")
		envFile     = flag.String("env", "", "env file to load (default .env)")
		logLevel    = flag.String("log-level", "", "log level (trace..panic)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Var(&files, "file", "media file to transcribe and print; repeatable")
	flag.Parse()

	if *showVersion {
		fmt.Println("notescribe " + version)
		return
	}

	cfg, err := config.Load(config.Overrides{
		EnvFile:  *envFile,
		Engine:   *engine,
		LogLevel: *logLevel,
		NotesDir: *notesDir,
	})
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("engine", cfg.Engine).Msg("notescribe starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.EngineInfo.WithLabelValues(cfg.Engine).Set(1)

	store := auth.NewStore(cfg.SessionFile)

	if *login {
		flow := auth.NewFlow(cfg.CloudAPIURL, cfg.CallbackAddr, store, reg, log)
		s, err := flow.Run(ctx, func(u string) {
			fmt.Printf("Open the following URL in a browser to sign in:\n\n  %s\n\n", u)
		})
		if err != nil {
			log.Fatal().Err(err).Msg("login failed")
		}
		fmt.Printf("Signed in as %s\n", s.UserID)
		return
	}

	tr, err := transcribe.New(cfg, auth.NewTokenSource(store), cliNotifier{}, m, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build transcriber")
	}

	switch {
	case *watchDir != "":
		w := watch.New(*watchDir, cfg.Exts(), tr, log)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("watch mode failed")
		}

	case *notePath != "":
		if err := runNote(ctx, cfg, tr, m, *notePath, log); err != nil {
			log.Fatal().Err(err).Msg("note transcription failed")
		}

	case len(files) > 0 || *rawURL != "":
		srcs, err := collect(files, *rawURL)
		if err != nil {
			log.Fatal().Err(err).Msg("bad input")
		}
		if err := runBatch(ctx, tr, m, srcs, log); err != nil {
			log.Fatal().Err(err).Msg("transcription failed")
		}

	default:
		flag.Usage()
		os.Exit(2)
	}

	log.Info().Msg("notescribe done")
}

func collect(files []string, rawURL string) ([]source.Source, error) {
	var srcs []source.Source
	for _, f := range files {
		srcs = append(srcs, source.NewLocalFile(f))
	}
	if rawURL != "" {
		u, err := source.NewURLFile(rawURL)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, u)
	}
	return srcs, nil
}

// runBatch transcribes sources one by one, printing each transcript to
// stdout. A failed file is logged and skipped; cancellation and a missing
// session stop the whole batch.
func runBatch(ctx context.Context, tr *transcribe.Transcriber, m *metrics.Metrics, srcs []source.Source, log zerolog.Logger) error {
	m.BatchPending.Set(float64(len(srcs)))
	defer m.BatchPending.Set(0)

	var failed int
	for _, src := range srcs {
		text, err := tr.Transcribe(ctx, src)
		m.BatchPending.Dec()
		if err != nil {
			if errors.Is(err, transcribe.ErrCancelled) || errors.Is(err, transcribe.ErrNoSession) {
				return err
			}
			failed++
			log.Error().Err(err).Str("file", src.DisplayName()).Msg("skipping file")
			continue
		}
		fmt.Printf("--- %s ---\n%s\n", src.DisplayName(), text)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(srcs))
	}
	return nil
}

// runNote transcribes every media file linked from the note and splices each
// transcript in directly after its link. The note is rewritten after each
// successful splice, so earlier results survive a later failure. Cancellation
// is checked before every splice: an abandoned transcription never modifies
// the note.
func runNote(ctx context.Context, cfg *config.Config, tr *transcribe.Transcriber, m *metrics.Metrics, notePath string, log zerolog.Logger) error {
	raw, err := os.ReadFile(notePath)
	if err != nil {
		return fmt.Errorf("read note: %w", err)
	}
	text := string(raw)

	linked := note.LinkedMedia(text, cfg.Exts())
	if len(linked) == 0 {
		return fmt.Errorf("no linked media files in %s", notePath)
	}
	log.Info().Int("files", len(linked)).Str("note", notePath).Msg("found linked media")

	root := cfg.NotesDir
	if root == "" {
		root = filepath.Dir(notePath)
	}

	m.BatchPending.Set(float64(len(linked)))
	defer m.BatchPending.Set(0)

	var failed int
	for _, target := range linked {
		src := source.NewVaultFile(root, target)
		transcript, err := tr.Transcribe(ctx, src)
		m.BatchPending.Dec()
		if err != nil {
			if errors.Is(err, transcribe.ErrCancelled) || errors.Is(err, transcribe.ErrNoSession) {
				return err
			}
			failed++
			log.Error().Err(err).Str("file", target).Msg("skipping file")
			continue
		}
		if err := ctx.Err(); err != nil {
			return transcribe.ErrCancelled
		}

		text, err = note.Splice(text, target, transcript)
		if err != nil {
			failed++
			log.Error().Err(err).Str("file", target).Msg("could not splice transcript")
			continue
		}
		if err := os.WriteFile(notePath, []byte(text), 0644); err != nil {
			return fmt.Errorf("write note: %w", err)
		}
		log.Info().Str("file", note.ClampName(40, target)).Msg("transcript spliced")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d linked files failed", failed, len(linked))
	}
	return nil
}

// cliNotifier prints transcription progress to stderr.
type cliNotifier struct{}

func (cliNotifier) Status(msg string) {
	fmt.Fprintln(os.Stderr, msg)
}

func (cliNotifier) Progress(name string, pct int) {
	fmt.Fprintf(os.Stderr, "\r%s: %3d%%", note.ClampName(40, name), pct)
	if pct >= 100 {
		fmt.Fprintln(os.Stderr)
	}
}
