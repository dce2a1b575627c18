// Package formdata builds multipart/form-data payloads by hand, for HTTP
// clients that only accept a single opaque body buffer plus a caller-set
// Content-Type header (no streaming, no structured form support).
//
// Framing convention: the Content-Type header carries the boundary prefixed
// with four dashes, while each delimiter line in the body carries six. A
// standard parser sees the header boundary "----<token>" and the usual "--"
// delimiter prefix on top of it. Both sides must agree exactly or servers
// reject the payload.
package formdata

import (
	"bytes"
	"crypto/rand"
	"fmt"
)

const boundaryPrefix = "Boundary"

const boundaryAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// boundaryRandLen is the number of random characters after the static prefix.
const boundaryRandLen = 16

// Fields is an ordered set of form fields. Insertion order determines part
// order in the encoded payload.
type Fields struct {
	entries []entry
}

type entry struct {
	name   string
	text   string
	blob   []byte
	isBlob bool
}

// AddString appends a UTF-8 text field.
func (f *Fields) AddString(name, value string) {
	f.entries = append(f.entries, entry{name: name, text: value})
}

// AddBytes appends a binary field. The part is emitted with a synthetic
// filename and an octet-stream content type.
func (f *Fields) AddBytes(name string, value []byte) {
	f.entries = append(f.entries, entry{name: name, blob: value, isBlob: true})
}

// Len returns the number of fields added so far.
func (f *Fields) Len() int { return len(f.entries) }

// Encode renders the fields into a complete multipart body and returns it
// together with the boundary token. The token is generated fresh per call.
// The caller must set the request Content-Type to ContentType(boundary).
func Encode(f *Fields) (body []byte, boundary string, err error) {
	boundary, err = randomBoundary()
	if err != nil {
		return nil, "", fmt.Errorf("generate boundary: %w", err)
	}

	var buf bytes.Buffer
	for _, e := range f.entries {
		if e.name == "" {
			return nil, "", fmt.Errorf("formdata: field with empty name")
		}
		buf.WriteString("------" + boundary + "\r\n")
		if e.isBlob {
			buf.WriteString(`Content-Disposition: form-data; name="` + e.name + `"; filename="blob"` + "\r\n")
			buf.WriteString(`Content-Type: "application/octet-stream"` + "\r\n\r\n")
			buf.Write(e.blob)
		} else {
			buf.WriteString(`Content-Disposition: form-data; name="` + e.name + `"` + "\r\n\r\n")
			buf.WriteString(e.text)
		}
		buf.WriteString("\r\n")
	}
	buf.WriteString("------" + boundary + "--")

	return buf.Bytes(), boundary, nil
}

// ContentType returns the Content-Type header value for a body encoded with
// the given boundary token. Note the four leading dashes: the body delimiter
// lines carry six, of which two are the standard "--" delimiter prefix.
func ContentType(boundary string) string {
	return "multipart/form-data; boundary=----" + boundary
}

// randomBoundary returns the static prefix followed by 16 random alphanumeric
// characters. Collision with payload bytes is never checked; the probability
// of the literal prefix+token appearing inside arbitrary audio content is
// accepted as negligible.
func randomBoundary() (string, error) {
	b := make([]byte, boundaryRandLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = boundaryAlphabet[int(b[i])%len(boundaryAlphabet)]
	}
	return boundaryPrefix + string(b), nil
}
