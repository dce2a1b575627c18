// Package note reads and rewrites the markdown documents transcripts are
// spliced into. It understands two link forms: wiki links ([[recording.mp3]]
// or [[recording.mp3|label]]) and markdown links (![label](recording.mp3) or
// [label](recording.mp3)).
package note

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/notescribe/notescribe/internal/source"
)

var (
	wikiLink = regexp.MustCompile(`\[\[([^\[\]|]+)(?:\|[^\[\]]*)?\]\]`)
	mdLink   = regexp.MustCompile(`!?\[[^\]]*\]\(([^()]+)\)`)
)

// LinkedMedia returns the media files linked from a note body, in order of
// first appearance, deduplicated. exts is the normalized extension list from
// config.Exts.
func LinkedMedia(text string, exts []string) []string {
	type hit struct {
		pos    int
		target string
	}
	var hits []hit
	for _, re := range []*regexp.Regexp{wikiLink, mdLink} {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			hits = append(hits, hit{pos: loc[0], target: strings.TrimSpace(text[loc[2]:loc[3]])})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	seen := make(map[string]bool)
	var files []string
	for _, h := range hits {
		if h.target == "" || seen[h.target] || !source.IsMedia(h.target, exts) {
			continue
		}
		seen[h.target] = true
		files = append(files, h.target)
	}
	return files
}

// Splice inserts the transcript on a new line directly after the first link
// to target. The anchor must exist: transcripts are never appended blindly to
// a document that no longer links the file.
func Splice(text, target, transcript string) (string, error) {
	idx := anchorEnd(text, target)
	if idx < 0 {
		return "", fmt.Errorf("no link to %q found in note", target)
	}
	return text[:idx] + "\n" + transcript + text[idx:], nil
}

// anchorEnd returns the byte offset just past the first link to target, or -1.
func anchorEnd(text, target string) int {
	for _, loc := range wikiLink.FindAllStringSubmatchIndex(text, -1) {
		if strings.TrimSpace(text[loc[2]:loc[3]]) == target {
			return loc[1]
		}
	}
	for _, loc := range mdLink.FindAllStringSubmatchIndex(text, -1) {
		if strings.TrimSpace(text[loc[2]:loc[3]]) == target {
			return loc[1]
		}
	}
	return -1
}

// ClampName shortens a file name for status messages, keeping the tail where
// the extension lives.
func ClampName(max int, name string) string {
	if max <= 0 || len(name) <= max {
		return name
	}
	if max <= 3 {
		return name[len(name)-max:]
	}
	return "..." + name[len(name)-(max-3):]
}
