// internal/runtime/sheetsapi.go — adapts *sheets.Service to the Sink interface
package runtime

import (
	"context"
	"fmt"

	"google.golang.org/api/sheets/v4"

	sh "github.com/avharbor/mailsheet/internal/sheets"
)

type sheetsSink struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
}

func NewSheetsAPISink(svc *sheets.Service, spreadsheetID, sheetName string) *sheetsSink {
	return &sheetsSink{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}
}

func (s *sheetsSink) Append(ctx context.Context, row sh.Row) error {
	vr := &sheets.ValueRange{
		Values: [][]interface{}{{row.Sender, row.Subject, row.Date, row.Body}},
	}
	rangeName := fmt.Sprintf("%s!A:D", s.sheetName)
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, rangeName, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	return err
}

var _ sh.Sink = (*sheetsSink)(nil)
