package segment

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Backends return segment lists in one of two encodings: a compact positional
// tuple (index, seek, start, end, text, tokens, temperature, avg_logprob,
// compression_ratio, no_speech_prob, words-or-null) or a field-named object.
// Parse detects which is in use and produces typed Segments, rejecting any
// shape it does not recognize rather than coercing it.

// tupleLen is the element count of a tuple-encoded segment.
const tupleLen = 11

const (
	tupleStart = 2
	tupleEnd   = 3
	tupleText  = 4
	tupleWords = 10
)

// Parse normalizes a raw backend segment list into Segments.
func Parse(raw json.RawMessage) ([]Segment, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("segments: not a JSON array: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	// Tuple encoding has no named fields: the first entry is itself an array.
	if firstByte(entries[0]) == '[' {
		return parseTuples(entries)
	}
	return parseObjects(entries)
}

func parseTuples(entries []json.RawMessage) ([]Segment, error) {
	out := make([]Segment, 0, len(entries))
	for i, e := range entries {
		var tuple []json.RawMessage
		if err := json.Unmarshal(e, &tuple); err != nil {
			return nil, fmt.Errorf("segment %d: mixed tuple/object encoding: %w", i, err)
		}
		if len(tuple) != tupleLen {
			return nil, fmt.Errorf("segment %d: tuple has %d elements, want %d", i, len(tuple), tupleLen)
		}

		var seg Segment
		if err := json.Unmarshal(tuple[tupleStart], &seg.Start); err != nil {
			return nil, fmt.Errorf("segment %d: start: %w", i, err)
		}
		if err := json.Unmarshal(tuple[tupleEnd], &seg.End); err != nil {
			return nil, fmt.Errorf("segment %d: end: %w", i, err)
		}
		if err := json.Unmarshal(tuple[tupleText], &seg.Text); err != nil {
			return nil, fmt.Errorf("segment %d: text: %w", i, err)
		}
		words, err := parseWords(tuple[tupleWords])
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		seg.Words = words

		if err := checkSpan(seg); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		out = append(out, seg)
	}
	return out, nil
}

func parseObjects(entries []json.RawMessage) ([]Segment, error) {
	out := make([]Segment, 0, len(entries))
	for i, e := range entries {
		var obj struct {
			Start *float64        `json:"start"`
			End   *float64        `json:"end"`
			Text  *string         `json:"text"`
			Words json.RawMessage `json:"words"`
		}
		if err := json.Unmarshal(e, &obj); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		if obj.Start == nil || obj.End == nil || obj.Text == nil {
			return nil, fmt.Errorf("segment %d: missing start/end/text", i)
		}

		seg := Segment{Start: *obj.Start, End: *obj.End, Text: *obj.Text}
		words, err := parseWords(obj.Words)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		seg.Words = words

		if err := checkSpan(seg); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		out = append(out, seg)
	}
	return out, nil
}

// parseWords decodes a word-timestamp array. Whisper-family backends name the
// token field "word"; others use "text". Null or absent means no word timing.
func parseWords(raw json.RawMessage) ([]Segment, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var entries []struct {
		Word  string  `json:"word"`
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("words: %w", err)
	}
	out := make([]Segment, 0, len(entries))
	for _, e := range entries {
		text := e.Word
		if text == "" {
			text = e.Text
		}
		out = append(out, Segment{Start: e.Start, End: e.End, Text: text})
	}
	return out, nil
}

func checkSpan(s Segment) error {
	if s.Start < 0 || s.End < s.Start {
		return fmt.Errorf("invalid span [%v, %v]", s.Start, s.End)
	}
	return nil
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}
