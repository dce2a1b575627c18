// Package segment holds the common time-aligned transcript representation and
// the rendering policies that turn it into note text.
package segment

import (
	"fmt"
	"strings"
	"time"
)

// Segment is a time-aligned span of transcript text. Start and End are
// elapsed media seconds. A Segment may represent a sentence-level span or a
// single word; Words carries word-level sub-timestamps when the backend
// provides them.
type Segment struct {
	Start float64   `json:"start"`
	End   float64   `json:"end"`
	Text  string    `json:"text"`
	Words []Segment `json:"words,omitempty"`
}

// Granularity selects the unit each rendered line covers.
type Granularity int

const (
	BySegment Granularity = iota
	ByWord
)

// Format is a timestamp rendering pattern. FormatAuto picks FormatMinSec for
// transcripts under one hour and FormatHourMinSec otherwise, decided once per
// Render call from the maximum end time.
type Format string

const (
	FormatAuto       Format = "auto"
	FormatHourMinSec Format = "HH:mm:ss"
	FormatMinSec     Format = "mm:ss"
	FormatSec        Format = "ss"
)

// ParseFormat maps a configuration string to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatAuto, FormatHourMinSec, FormatMinSec, FormatSec:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown timestamp format %q", s)
}

// Options control Render.
type Options struct {
	Granularity Granularity
	Format      Format
	// Interval > 0 groups segments into fixed-width time buckets instead of
	// rendering one line per segment/word.
	Interval time.Duration
}

// Render converts segments into timestamped note text, one line per unit.
// An empty segment list renders to the empty string.
func Render(segs []Segment, opts Options) string {
	if len(segs) == 0 {
		return ""
	}

	format := opts.Format
	if format == "" || format == FormatAuto {
		format = autoFormat(segs)
	}

	units := segs
	if opts.Granularity == ByWord {
		units = flattenWords(segs)
	}
	if opts.Interval > 0 {
		units = bucket(units, opts.Interval.Seconds())
	}

	lines := make([]string, 0, len(units))
	for _, u := range units {
		lines = append(lines, fmt.Sprintf("%s - %s: %s",
			clock(u.Start, format), clock(u.End, format), strings.TrimSpace(u.Text)))
	}
	return strings.Join(lines, "\n")
}

// autoFormat selects the timestamp width from the transcript's total
// duration: mm:ss under one hour, HH:mm:ss from one hour up.
func autoFormat(segs []Segment) Format {
	var max float64
	for _, s := range segs {
		if s.End > max {
			max = s.End
		}
	}
	if max < 3600 {
		return FormatMinSec
	}
	return FormatHourMinSec
}

// clock renders elapsed media seconds as a clock string. The value is pinned
// to UTC so the local timezone offset never skews an elapsed duration.
func clock(seconds float64, format Format) string {
	t := time.Unix(int64(seconds), 0).UTC()
	switch format {
	case FormatHourMinSec:
		return t.Format("15:04:05")
	case FormatMinSec:
		return t.Format("04:05")
	case FormatSec:
		return t.Format("05")
	default:
		return t.Format("15:04:05")
	}
}

// flattenWords produces one Segment per word. Segments that carry word-level
// timing contribute their words directly; for the rest, word times are
// interpolated evenly across the segment's span.
func flattenWords(segs []Segment) []Segment {
	var out []Segment
	for _, seg := range segs {
		if len(seg.Words) > 0 {
			for _, w := range seg.Words {
				w.Words = nil
				out = append(out, w)
			}
			continue
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		tokens := strings.Fields(text)
		n := len(tokens)
		wordDur := (seg.End - seg.Start) / float64(n)
		for i, tok := range tokens {
			out = append(out, Segment{
				Start: seg.Start + float64(i)*wordDur,
				End:   seg.Start + float64(i+1)*wordDur,
				Text:  tok,
			})
		}
	}
	return out
}

// bucket groups units whose start time falls in the same fixed-width window.
// Each bucket spans its members' min start to max end, text joined in order.
func bucket(units []Segment, width float64) []Segment {
	var out []Segment
	index := make(map[int]int)
	for _, u := range units {
		k := int(u.Start / width)
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, Segment{Start: u.Start, End: u.End, Text: strings.TrimSpace(u.Text)})
			continue
		}
		if u.Start < out[i].Start {
			out[i].Start = u.Start
		}
		if u.End > out[i].End {
			out[i].End = u.End
		}
		out[i].Text = strings.TrimSpace(out[i].Text + " " + strings.TrimSpace(u.Text))
	}
	return out
}
