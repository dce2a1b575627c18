package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/notescribe/notescribe/internal/segment"
	"github.com/notescribe/notescribe/internal/source"
)

func mediaSource(t *testing.T, name string, data []byte) source.Source {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		t.Fatal(err)
	}
	return source.NewVaultFile(dir, name)
}

func TestWhisperTranscribe(t *testing.T) {
	var gotQuery url.Values
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("server could not parse multipart body: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("audio_file")
		if err != nil {
			t.Errorf("missing audio_file field: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotAudio, _ = io.ReadAll(f)
		w.Write([]byte(`{"text":" hello world "}`))
	}))
	defer srv.Close()

	wc := NewWhisperClient([]string{srv.URL}, WhisperOpts{Language: "en", Encode: true}, zerolog.Nop())
	got, err := wc.Transcribe(context.Background(), mediaSource(t, "rec.mp3", []byte{1, 2, 3}))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "hello world" {
		t.Errorf("text = %q, want hello world", got)
	}
	if string(gotAudio) != "\x01\x02\x03" {
		t.Errorf("audio bytes = %x, want 010203", gotAudio)
	}
	if gotQuery.Get("task") != "transcribe" {
		t.Errorf("task = %q, want transcribe", gotQuery.Get("task"))
	}
	if gotQuery.Get("language") != "en" {
		t.Errorf("language = %q, want en", gotQuery.Get("language"))
	}
	if gotQuery.Get("output") != "json" {
		t.Errorf("output = %q, want json", gotQuery.Get("output"))
	}
}

func TestWhisperQueryMinimalByDefault(t *testing.T) {
	wc := NewWhisperClient(nil, WhisperOpts{Language: "auto", Encode: true}, zerolog.Nop())
	u, err := url.Parse(wc.requestURL("http://asr:9000"))
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	for _, absent := range []string{"language", "encode", "vad_filter", "initial_prompt", "word_timestamps"} {
		if q.Has(absent) {
			t.Errorf("query has %q = %q, want omitted at default", absent, q.Get(absent))
		}
	}
	if q.Get("task") != "transcribe" {
		t.Errorf("task = %q, want transcribe", q.Get("task"))
	}
}

func TestWhisperQueryNonDefaults(t *testing.T) {
	wc := NewWhisperClient(nil, WhisperOpts{
		Translate:     true,
		Language:      "de",
		Encode:        false,
		VadFilter:     true,
		InitialPrompt: "meeting notes",
		Timestamps:    true,
	}, zerolog.Nop())
	u, err := url.Parse(wc.requestURL("http://asr:9000/"))
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("task") != "translate" {
		t.Errorf("task = %q, want translate", q.Get("task"))
	}
	if q.Get("language") != "de" {
		t.Errorf("language = %q, want de", q.Get("language"))
	}
	if q.Get("encode") != "false" {
		t.Errorf("encode = %q, want false", q.Get("encode"))
	}
	if q.Get("vad_filter") != "true" {
		t.Errorf("vad_filter = %q, want true", q.Get("vad_filter"))
	}
	if q.Get("initial_prompt") != "meeting notes" {
		t.Errorf("initial_prompt = %q", q.Get("initial_prompt"))
	}
	if q.Get("word_timestamps") != "true" {
		t.Errorf("word_timestamps = %q, want true", q.Get("word_timestamps"))
	}
}

func TestWhisperFailover(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"from backup"}`))
	}))
	defer good.Close()

	wc := NewWhisperClient([]string{bad.URL, good.URL}, WhisperOpts{Encode: true}, zerolog.Nop())
	got, err := wc.Transcribe(context.Background(), mediaSource(t, "a.wav", []byte("x")))
	if err != nil {
		t.Fatalf("Transcribe should succeed via the second endpoint: %v", err)
	}
	if got != "from backup" {
		t.Errorf("text = %q, want from backup", got)
	}
}

func TestWhisperAllEndpointsFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer bad.Close()

	wc := NewWhisperClient([]string{bad.URL, bad.URL}, WhisperOpts{Encode: true}, zerolog.Nop())
	_, err := wc.Transcribe(context.Background(), mediaSource(t, "a.wav", []byte("x")))
	if err == nil {
		t.Fatal("Transcribe should fail when every endpoint fails")
	}
	if !strings.Contains(err.Error(), "all 2 asr endpoints failed") {
		t.Errorf("err = %v, want aggregate failure", err)
	}
}

func TestWhisperTimestampRendering(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"a b","segments":[{"start":0,"end":4,"text":"a"},{"start":5,"end":9,"text":"b"}]}`))
	}))
	defer srv.Close()

	wc := NewWhisperClient([]string{srv.URL}, WhisperOpts{
		Encode:     true,
		Timestamps: true,
		Render:     segment.Options{Format: segment.FormatMinSec},
	}, zerolog.Nop())
	got, err := wc.Transcribe(context.Background(), mediaSource(t, "a.wav", []byte("x")))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	want := "00:00 - 00:04: a\n00:05 - 00:09: b"
	if got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestWhisperMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"language":"en"}`))
	}))
	defer srv.Close()

	wc := NewWhisperClient([]string{srv.URL}, WhisperOpts{Encode: true}, zerolog.Nop())
	_, err := wc.Transcribe(context.Background(), mediaSource(t, "a.wav", []byte("x")))
	if err == nil {
		t.Fatal("Transcribe must reject a response with no text or segments")
	}
}
