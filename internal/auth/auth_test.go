package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/notescribe/notescribe/internal/transcribe"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "session.json"))
}

func TestStoreRoundTrip(t *testing.T) {
	st := tempStore(t)
	want := &Session{AccessToken: "tok", UserID: "u1", Email: "a@b.c"}
	if err := st.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(st.path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("session file mode = %o, want 600", perm)
	}

	got, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.AccessToken != "tok" || got.UserID != "u1" || got.Email != "a@b.c" {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func TestStoreMissingFile(t *testing.T) {
	st := tempStore(t)
	if _, err := st.Load(); !errors.Is(err, transcribe.ErrNoSession) {
		t.Fatalf("Load on missing file = %v, want ErrNoSession", err)
	}
	if err := st.Clear(); err != nil {
		t.Errorf("Clear on missing file should be a no-op, got %v", err)
	}
}

func TestStoreCorruptFile(t *testing.T) {
	st := tempStore(t)
	if err := os.WriteFile(st.path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := st.Load()
	if err == nil {
		t.Fatal("corrupt session file must not load")
	}
	if errors.Is(err, transcribe.ErrNoSession) {
		t.Error("corrupt file is a distinct failure from a missing session")
	}
}

func TestTokenSource(t *testing.T) {
	st := tempStore(t)
	if err := st.Save(&Session{AccessToken: "tok", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}

	ts := NewTokenSource(st)
	tok, err := ts.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "tok" {
		t.Errorf("Token = %q, want tok", tok)
	}
	if ts.UserID() != "u1" {
		t.Errorf("UserID = %q, want u1", ts.UserID())
	}
}

func TestTokenSourceExpired(t *testing.T) {
	st := tempStore(t)
	err := st.Save(&Session{AccessToken: "tok", UserID: "u1", ExpiresAt: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatal(err)
	}

	ts := NewTokenSource(st)
	if _, err := ts.Token(context.Background()); !errors.Is(err, transcribe.ErrNoSession) {
		t.Fatalf("Token on expired session = %v, want ErrNoSession", err)
	}
}

func TestFlowCallback(t *testing.T) {
	st := tempStore(t)
	f := NewFlow("https://cloud.example", "127.0.0.1:0", st, nil, zerolog.Nop())

	urls := make(chan string, 1)
	type result struct {
		session *Session
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := f.Run(context.Background(), func(u string) { urls <- u })
		done <- result{s, err}
	}()

	loginURL := <-urls
	parsed, err := url.Parse(loginURL)
	if err != nil {
		t.Fatal(err)
	}
	state := parsed.Query().Get("state")
	port := parsed.Query().Get("port")
	if state == "" || port == "" {
		t.Fatalf("login url %q missing state or port", loginURL)
	}
	base := "http://127.0.0.1:" + port

	// Wrong state must be refused and must not complete the flow.
	resp, err := http.Get(base + "/callback?state=nope&access_token=evil&user_id=evil")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("state mismatch status = %d, want 403", resp.StatusCode)
	}

	resp, err = http.Get(base + "/callback?state=" + state + "&access_token=tok&user_id=u1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback status = %d, want 200", resp.StatusCode)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("Run: %v", res.err)
	}
	if res.session.AccessToken != "tok" || res.session.UserID != "u1" {
		t.Errorf("session = %+v", res.session)
	}

	stored, err := st.Load()
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if stored.AccessToken != "tok" {
		t.Errorf("stored token = %q, want tok", stored.AccessToken)
	}
}

func TestFlowCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st := tempStore(t)
	f := NewFlow("https://cloud.example", "127.0.0.1:0", st, nil, zerolog.Nop())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := f.Run(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}
