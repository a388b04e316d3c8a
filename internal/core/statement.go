package core

import "github.com/shopspring/decimal"

type (
	// CategoryTotal aggregates one category's movements within a statement.
	CategoryTotal struct {
		CategoryID string
		Name       string
		Direction  FlowDirection
		Total      decimal.Decimal
	}

	// MonthStatement is the read model for one tenant month: the active
	// entries in canonical order plus opening/closing balances and
	// per-category totals. Rendering is the caller's problem.
	MonthStatement struct {
		Tenant      string
		Year        int
		Month       int
		Opening     Anchor
		Entries     []LedgerEntry
		TotalDebit  decimal.Decimal
		TotalCredit decimal.Decimal
		Closing     decimal.Decimal
		ByCategory  []CategoryTotal
	}
)
