package sheets

import "context"

// Row is one appended spreadsheet row, columns A through D.
type Row struct {
	Sender  string
	Subject string
	Date    string
	Body    string
}

// Sink durably appends rows to the destination table. Append returning
// nil means the row is permanently recorded downstream.
type Sink interface {
	Append(ctx context.Context, row Row) error
}
