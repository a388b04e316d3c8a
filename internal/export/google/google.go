// Package google exports month statements to a Google Sheets spreadsheet
// using Service Account credentials. The export is a convenience surface for
// finance staff; the ledger itself never depends on it.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"github.com/SebasPM15/CashFlow-Backend/internal/core"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base sheet name without year; the year is prefixed per statement so
	// each fiscal year lands on its own tab.
	sheetBase string
}

// NewFromEnv creates a Sheets exporter from environment variables.
// Required: GOOGLE_SPREADSHEET_ID.
// Auth: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or
// GOOGLE_APPLICATION_CREDENTIALS.
// Optional: GOOGLE_SHEET_NAME (default "Statements").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	sheetBase := strings.TrimSpace(os.Getenv("GOOGLE_SHEET_NAME"))
	if sheetBase == "" {
		sheetBase = "Statements"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     sheetBase,
	}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		var err error
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// AppendStatement writes one month statement to the "<year> <base>" tab: an
// opening row, one row per entry, and a closing row with the month's totals.
// Repeated exports of the same month append a fresh block; the sheet is a
// log, not a mirror.
func (c *Client) AppendStatement(ctx context.Context, stmt core.MonthStatement) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	sheet := fmt.Sprintf("%d %s", stmt.Year, c.sheetBase)

	rows := [][]any{
		{
			fmt.Sprintf("%04d-%02d", stmt.Year, stmt.Month),
			"opening",
			string(stmt.Opening.Source),
			"",
			"",
			core.FormatAmount(stmt.Opening.Amount),
		},
	}
	for _, e := range stmt.Entries {
		rows = append(rows, []any{
			e.OccurredAt.Format("2006-01-02"),
			e.CategoryID,
			e.Note,
			core.FormatAmount(e.Debit),
			core.FormatAmount(e.Credit),
			core.FormatAmount(e.Balance),
		})
	}
	rows = append(rows, []any{
		fmt.Sprintf("%04d-%02d", stmt.Year, stmt.Month),
		"closing",
		"",
		core.FormatAmount(stmt.TotalDebit),
		core.FormatAmount(stmt.TotalCredit),
		core.FormatAmount(stmt.Closing),
	})

	rng := fmt.Sprintf("%s!A:F", sheet)
	vr := &gsheet.ValueRange{Values: rows}

	_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append statement to %s: %w", sheet, err)
	}
	return nil
}
