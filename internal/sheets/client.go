// internal/sheets/client.go
package sheets

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"

	"bankroll-service/pkg/models"
)

type Config struct {
	SpreadsheetID   string
	CredentialsJSON []byte // service account — enables writes
	APIKey          string // read-only fallback
}

// Client wraps the Google Sheets v4 API for one configured spreadsheet.
// Write capability follows directly from the credential kind: a service
// account can write, an API key cannot.
type Client struct {
	svc           *sheetsv4.Service
	spreadsheetID string
	writable      bool
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("missing spreadsheet ID")
	}

	var opts []option.ClientOption
	writable := false
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts,
			option.WithCredentialsJSON(cfg.CredentialsJSON),
			option.WithScopes(sheetsv4.SpreadsheetsScope),
		)
		writable = true
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		log.Println("⚠️ [SHEETS] API key credential: spreadsheet access is read-only")
	default:
		return nil, fmt.Errorf("sheets client requires a service account JSON or an API key")
	}

	svc, err := sheetsv4.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID, writable: writable}, nil
}

// CanWrite reports whether the configured credential permits writes.
func (c *Client) CanWrite() bool {
	return c.writable
}

// ListSheets returns the tabs of the configured spreadsheet.
func (c *Client) ListSheets(ctx context.Context) ([]models.SheetInfo, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch spreadsheet: %w", err)
	}
	infos := make([]models.SheetInfo, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties == nil {
			continue
		}
		info := models.SheetInfo{ID: sh.Properties.SheetId, Title: sh.Properties.Title}
		if gp := sh.Properties.GridProperties; gp != nil {
			info.RowCount = gp.RowCount
			info.ColCount = gp.ColumnCount
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ReadRows reads an entire sheet: first row as headers, the rest as cell
// text. Ragged rows are padded so every row has one cell per header.
func (c *Client) ReadRows(ctx context.Context, sheetName string) (*models.SheetData, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, sheetName).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheetName, err)
	}
	if len(resp.Values) == 0 {
		return &models.SheetData{Headers: []string{}, Rows: [][]string{}}, nil
	}

	headers := make([]string, len(resp.Values[0]))
	for i, v := range resp.Values[0] {
		headers[i] = fmt.Sprint(v)
	}

	rows := make([][]string, 0, len(resp.Values)-1)
	for _, raw := range resp.Values[1:] {
		row := make([]string, len(headers))
		for i := range headers {
			if i < len(raw) && raw[i] != nil {
				row[i] = fmt.Sprint(raw[i])
			}
		}
		rows = append(rows, row)
	}
	return &models.SheetData{Headers: headers, Rows: rows}, nil
}

// WriteRows replaces a sheet's contents with the given value grid and returns
// the number of rows written. clearFirst wipes the sheet before writing so
// stale trailing rows never survive a shorter snapshot.
func (c *Client) WriteRows(ctx context.Context, sheetName string, values [][]interface{}, clearFirst bool) (int, error) {
	if !c.writable {
		return 0, fmt.Errorf("sheets credential is not write-capable")
	}

	if clearFirst {
		_, err := c.svc.Spreadsheets.Values.
			Clear(c.spreadsheetID, sheetName, &sheetsv4.ClearValuesRequest{}).
			Context(ctx).Do()
		if err != nil {
			return 0, fmt.Errorf("failed to clear sheet %q: %w", sheetName, err)
		}
	}

	vr := &sheetsv4.ValueRange{Values: values}
	resp, err := c.svc.Spreadsheets.Values.
		Update(c.spreadsheetID, fmt.Sprintf("%s!A1", sheetName), vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to write sheet %q: %w", sheetName, err)
	}
	return int(resp.UpdatedRows), nil
}
