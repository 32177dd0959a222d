package gmail

// MessageID identifies one Gmail message. It is assigned by Gmail and
// stable across runs, which makes it usable as a dedup key.
type MessageID string

// Candidate is one listed message awaiting processing.
type Candidate struct {
	ID     MessageID
	Unread bool
}

// Page is one page of listed candidates. An empty NextPageToken marks
// the last page.
type Page struct {
	Candidates    []Candidate
	NextPageToken string
}

// Part is one MIME part of a message payload. Body carries the
// base64url-encoded content exactly as the API returns it.
type Part struct {
	MimeType string
	Body     string
	Parts    []Part
}

// Detail is the full form of a message as fetched with format=full.
type Detail struct {
	ID      MessageID
	Headers map[string]string // From, Subject, Date, etc.
	Payload Part
}
