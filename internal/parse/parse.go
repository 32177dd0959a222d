// Package parse turns raw Gmail message detail into normalized rows.
// Everything here is pure: no I/O, and malformed input degrades to
// empty fields rather than errors, so one bad message never blocks a
// batch.
package parse

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/jaytaylor/html2text"

	gm "github.com/avharbor/mailsheet/internal/gmail"
)

// TruncationMarker terminates any body cut at the length cap.
const TruncationMarker = "…"

var tagRe = regexp.MustCompile(`<[^>]+>`)

// Record is one normalized message ready for appending.
type Record struct {
	MessageID string
	Sender    string
	Subject   string
	Date      string
	Body      string
}

// Message extracts a Record from d, truncating the body to limit code
// points. Missing headers become empty strings. ok is false only when
// the message holds nothing extractable at all.
func Message(d gm.Detail, limit int) (rec Record, ok bool) {
	rec = Record{
		MessageID: string(d.ID),
		Sender:    d.Headers["From"],
		Subject:   d.Headers["Subject"],
		Date:      d.Headers["Date"],
	}
	rec.Body = Truncate(body(d.Payload), limit)
	if rec.Sender == "" && rec.Subject == "" && rec.Body == "" {
		return Record{}, false
	}
	return rec, true
}

// body picks the best part: the first non-empty text/plain part, else
// the last text/html part converted to text, else the top-level body.
// Nested multiparts (alternative inside mixed) are walked recursively.
func body(p gm.Part) string {
	if len(p.Parts) == 0 {
		return strings.TrimSpace(decode(p.Body))
	}
	htmlBody := ""
	for _, part := range p.Parts {
		switch part.MimeType {
		case "text/plain":
			if s := decode(part.Body); s != "" {
				return strings.TrimSpace(s)
			}
		case "text/html":
			if s := decode(part.Body); s != "" {
				htmlBody = s
			}
		}
	}
	if htmlBody != "" {
		return strings.TrimSpace(htmlToText(htmlBody))
	}
	for _, part := range p.Parts {
		if len(part.Parts) > 0 {
			if s := body(part); s != "" {
				return s
			}
		}
	}
	return ""
}

// decode accepts both padded and raw base64url, which the API mixes.
// Undecodable data yields an empty string.
func decode(data string) string {
	if data == "" {
		return ""
	}
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}

func htmlToText(s string) string {
	text, err := html2text.FromString(s)
	if err != nil {
		// crude fallback: strip tags, keep visible text
		return tagRe.ReplaceAllString(s, "")
	}
	return text
}

// Truncate cuts s to limit code points, marker included; bodies at or
// under the limit pass through unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	marker := []rune(TruncationMarker)
	if limit <= len(marker) {
		return string(marker[:limit])
	}
	return string(runes[:limit-len(marker)]) + TruncationMarker
}
