package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Debit  FlowDirection = "DEBIT"
	Credit FlowDirection = "CREDIT"

	StatusActive    EntryStatus = "ACTIVE"
	StatusCancelled EntryStatus = "CANCELLED"

	AnchorExplicit  AnchorSource = "EXPLICIT"
	AnchorInherited AnchorSource = "INHERITED"
	AnchorNone      AnchorSource = "NONE"
)

type (
	// FlowDirection says whether a category moves money out of the ledger
	// (DEBIT) or into it (CREDIT).
	FlowDirection string

	EntryStatus string

	AnchorSource string

	// CategoryTag labels a ledger entry. Direction is immutable once the tag
	// is referenced by an entry: an entry may only be moved to a tag with the
	// same direction.
	CategoryTag struct {
		ID        string
		Tenant    string
		Name      string
		Direction FlowDirection
	}

	// LedgerEntry is one cash movement. Balance is derived, not authoritative:
	// it must equal the previous active balance + Credit - Debit under
	// canonical order, which the recalculator re-establishes after every write.
	LedgerEntry struct {
		Tenant     string
		ID         string
		OccurredAt time.Time
		// Sequence is the monotonic insertion order, assigned by the store.
		// It breaks ties between entries sharing the same OccurredAt.
		Sequence   int64
		CategoryID string
		Debit      decimal.Decimal
		Credit     decimal.Decimal
		Balance    decimal.Decimal
		Status     EntryStatus
		Note       string
	}

	// PeriodAnchor is an explicitly configured opening balance, effective from
	// EffectiveMonth of Year onward. At most one per (tenant, year).
	PeriodAnchor struct {
		Tenant         string
		Year           int
		EffectiveMonth int
		Amount         decimal.Decimal
	}

	// Anchor is a resolved opening balance: where a balance chain starts.
	Anchor struct {
		Amount decimal.Decimal
		Source AnchorSource
		Date   time.Time
	}
)

func (d FlowDirection) Valid() bool {
	return d == Debit || d == Credit
}

func (c CategoryTag) Validate() error {
	if strings.TrimSpace(c.Tenant) == "" {
		return fmt.Errorf("category tenant cannot be empty")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("category name cannot be empty")
	}
	if !c.Direction.Valid() {
		return fmt.Errorf("invalid flow direction %q", c.Direction)
	}
	return nil
}

// Amount returns the entry's single non-zero column as a positive value.
func (e LedgerEntry) Amount() decimal.Decimal {
	if e.Debit.IsPositive() {
		return e.Debit
	}
	return e.Credit
}

// Signed returns the entry's effect on the running balance: Credit - Debit.
func (e LedgerEntry) Signed() decimal.Decimal {
	return e.Credit.Sub(e.Debit)
}

func (e LedgerEntry) Active() bool {
	return e.Status == StatusActive
}

func (e LedgerEntry) Validate() error {
	if strings.TrimSpace(e.Tenant) == "" {
		return fmt.Errorf("entry tenant cannot be empty")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("entry date cannot be zero")
	}
	if strings.TrimSpace(e.CategoryID) == "" {
		return ErrUnknownCategory
	}
	if e.Debit.IsNegative() || e.Credit.IsNegative() {
		return ErrInvalidAmount
	}
	if e.Debit.IsPositive() == e.Credit.IsPositive() {
		// Exactly one of the pair must be non-zero.
		return ErrInvalidAmount
	}
	switch e.Status {
	case StatusActive, StatusCancelled:
	default:
		return fmt.Errorf("invalid entry status %q", e.Status)
	}
	if len(e.Note) > 500 {
		return fmt.Errorf("note too long (max 500 characters)")
	}
	return nil
}

func (a PeriodAnchor) Validate() error {
	if strings.TrimSpace(a.Tenant) == "" {
		return fmt.Errorf("anchor tenant cannot be empty")
	}
	if a.Year < 1 {
		return fmt.Errorf("invalid anchor year %d", a.Year)
	}
	if a.EffectiveMonth < 1 || a.EffectiveMonth > 12 {
		return fmt.Errorf("invalid anchor month %d", a.EffectiveMonth)
	}
	return nil
}

// EffectiveDate is the first day of the anchor's effective month.
func (a PeriodAnchor) EffectiveDate() time.Time {
	return time.Date(a.Year, time.Month(a.EffectiveMonth), 1, 0, 0, 0, 0, time.UTC)
}

// Before reports whether entry a sorts before entry b in canonical order:
// OccurredAt ascending, Sequence ascending as the tie-break. Canonical order,
// not physical insertion order, defines "chronological" for balance purposes.
func (e LedgerEntry) Before(other LedgerEntry) bool {
	if !e.OccurredAt.Equal(other.OccurredAt) {
		return e.OccurredAt.Before(other.OccurredAt)
	}
	return e.Sequence < other.Sequence
}
