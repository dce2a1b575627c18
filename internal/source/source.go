// Package source abstracts where a media file's bytes come from: the managed
// notes directory, an arbitrary local path, or a remote URL. Downstream code
// only sees the Source interface, so the transcription adapters are agnostic
// to origin.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Source is an opaque origin of binary content. Reads are lazy and uncached:
// every Data call re-fetches from the origin.
type Source interface {
	Name() string
	Ext() string
	DisplayName() string
	Data(ctx context.Context) ([]byte, error)
}

// VaultFile is a file inside the managed notes directory.
type VaultFile struct {
	root string
	rel  string
}

// NewVaultFile creates a source for a file referenced relative to the notes root.
func NewVaultFile(root, rel string) *VaultFile {
	return &VaultFile{root: root, rel: rel}
}

func (v *VaultFile) Name() string        { return filepath.Base(v.rel) }
func (v *VaultFile) Ext() string         { return ext(v.rel) }
func (v *VaultFile) DisplayName() string { return v.Name() }
func (v *VaultFile) Path() string        { return filepath.Join(v.root, v.rel) }

func (v *VaultFile) Data(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(v.Path())
	if err != nil {
		return nil, fmt.Errorf("read vault file: %w", err)
	}
	return data, nil
}

// LocalFile is a file picked from the filesystem outside the notes directory.
type LocalFile struct {
	path string
}

func NewLocalFile(path string) *LocalFile {
	return &LocalFile{path: path}
}

func (l *LocalFile) Name() string        { return filepath.Base(l.path) }
func (l *LocalFile) Ext() string         { return ext(l.path) }
func (l *LocalFile) DisplayName() string { return "file: " + l.Name() }

func (l *LocalFile) Data(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read local file: %w", err)
	}
	return data, nil
}

// URLFile fetches its content from a remote URL on every read.
type URLFile struct {
	url    string
	name   string
	client *http.Client
}

func NewURLFile(rawurl string) (*URLFile, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "online-file"
	}
	return &URLFile{
		url:    rawurl,
		name:   name,
		client: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (u *URLFile) Name() string        { return u.name }
func (u *URLFile) Ext() string         { return ext(u.name) }
func (u *URLFile) DisplayName() string { return "url: " + u.name }
func (u *URLFile) URL() string         { return u.url }

func (u *URLFile) Data(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", u.url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// IsMedia reports whether name's extension is in exts (lowercase, no dots).
func IsMedia(name string, exts []string) bool {
	e := ext(name)
	for _, want := range exts {
		if e == want {
			return true
		}
	}
	return false
}

func ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
