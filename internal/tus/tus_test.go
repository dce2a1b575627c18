package tus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeTus is a minimal tus server: POST creates, PATCH appends.
type fakeTus struct {
	mu          sync.Mutex
	data        []byte
	length      int64
	patches     []int64 // offsets seen
	failPatches int     // fail this many PATCHes with 500 before succeeding
	created     int
	auth        string
}

func (f *fakeTus) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.auth = r.Header.Get("Authorization")

		switch r.Method {
		case http.MethodPost:
			f.created++
			f.length, _ = strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
			w.Header().Set("Location", "/files/upload-1")
			w.WriteHeader(http.StatusCreated)
		case http.MethodPatch:
			if f.failPatches > 0 {
				f.failPatches--
				http.Error(w, "flaky", http.StatusInternalServerError)
				return
			}
			offset, _ := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
			f.patches = append(f.patches, offset)
			body, _ := io.ReadAll(r.Body)
			f.data = append(f.data, body...)
			w.Header().Set("Upload-Offset", strconv.FormatInt(offset+int64(len(body)), 10))
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "bad method", http.StatusMethodNotAllowed)
		}
	})
}

func testClient(base string, chunkSize int64) *Client {
	c := NewClient(base, chunkSize, zerolog.Nop())
	c.backoff = []time.Duration{0, 0} // keep tests fast
	return c
}

func TestUploadChunking(t *testing.T) {
	fake := &fakeTus{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	payload := []byte("0123456789")
	var progress []string

	c := testClient(srv.URL+"/files/", 4)
	err := c.Upload(context.Background(), "rec.mp3", payload, "tok-123", func(sent, total int64) {
		progress = append(progress, fmt.Sprintf("%d/%d", sent, total))
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if string(fake.data) != "0123456789" {
		t.Errorf("server received %q, want full payload", fake.data)
	}
	wantOffsets := []int64{0, 4, 8}
	if len(fake.patches) != len(wantOffsets) {
		t.Fatalf("patch offsets = %v, want %v", fake.patches, wantOffsets)
	}
	for i, o := range wantOffsets {
		if fake.patches[i] != o {
			t.Errorf("patch %d offset = %d, want %d", i, fake.patches[i], o)
		}
	}
	wantProgress := []string{"4/10", "8/10", "10/10"}
	if len(progress) != len(wantProgress) {
		t.Fatalf("progress = %v, want %v", progress, wantProgress)
	}
	for i := range wantProgress {
		if progress[i] != wantProgress[i] {
			t.Errorf("progress[%d] = %s, want %s", i, progress[i], wantProgress[i])
		}
	}
	if fake.auth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", fake.auth)
	}
}

func TestUploadRetriesTransientFailure(t *testing.T) {
	fake := &fakeTus{failPatches: 2}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := testClient(srv.URL+"/files/", 64)
	if err := c.Upload(context.Background(), "a.wav", []byte("abc"), "t", nil); err != nil {
		t.Fatalf("Upload should survive two 500s: %v", err)
	}
	if string(fake.data) != "abc" {
		t.Errorf("server received %q, want abc", fake.data)
	}
}

func TestUploadRetriesExhausted(t *testing.T) {
	fake := &fakeTus{failPatches: 100}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := testClient(srv.URL+"/files/", 64)
	err := c.Upload(context.Background(), "a.wav", []byte("abc"), "t", nil)
	if err == nil {
		t.Fatal("Upload should fail once retries are exhausted")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Errorf("err = %v, want wrapped StatusError 500", err)
	}
}

func TestUploadNonTransientFailsFast(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "payment required", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	c := testClient(srv.URL+"/files/", 64)
	err := c.Upload(context.Background(), "a.wav", []byte("abc"), "t", nil)
	if err == nil {
		t.Fatal("Upload should fail")
	}
	if calls != 1 {
		t.Errorf("endpoint called %d times, want 1 (402 is not retryable)", calls)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusPaymentRequired {
		t.Errorf("err = %v, want StatusError 402", err)
	}
}

func TestUploadCancelledDuringBackoff(t *testing.T) {
	fake := &fakeTus{failPatches: 100}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := testClient(srv.URL+"/files/", 64)
	c.backoff = []time.Duration{time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := c.Upload(ctx, "a.wav", []byte("abc"), "t", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSanitizeKey(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Recording 2024.mp3", "Recording-2024.mp3"},
		{"a/b\\c:d.wav", "a-b-c-d.wav"},
		{"plain.m4a", "plain.m4a"},
		{"über café.ogg", "--ber-caf--.ogg"},
	}
	for _, tc := range cases {
		if got := SanitizeKey(tc.in); got != tc.want {
			t.Errorf("SanitizeKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
