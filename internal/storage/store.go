// Package storage defines the persistence boundary the ledger engine depends
// on, plus the SQLite implementation used in production. The engine never
// touches a database handle directly: every mutating call runs inside one
// ambient transaction obtained through Store.WithinTx, so a mutation and the
// recalculation pass that follows it commit together or not at all.
package storage

import (
	"context"
	"time"

	"github.com/SebasPM15/CashFlow-Backend/internal/core"
)

// Tx is the set of reads and writes available inside one ambient transaction.
// Implementations must return core.ErrNotFound from the point lookups when no
// row matches; "no match" on the range lookups is reported via the ok flag.
type Tx interface {
	// ActiveEntries returns the tenant's ACTIVE entries in canonical order:
	// occurred_at ascending, sequence ascending.
	ActiveEntries(ctx context.Context, tenant string) ([]core.LedgerEntry, error)

	// GetEntry loads one entry by identifier regardless of status.
	GetEntry(ctx context.Context, tenant, id string) (core.LedgerEntry, error)

	// InsertEntry persists a new entry and assigns its Sequence.
	InsertEntry(ctx context.Context, e *core.LedgerEntry) error

	// UpdateEntry rewrites an existing entry keyed by (tenant, id).
	UpdateEntry(ctx context.Context, e core.LedgerEntry) error

	// LastActiveBefore returns the canonically last ACTIVE entry whose
	// occurred_at is strictly before cutoff.
	LastActiveBefore(ctx context.Context, tenant string, cutoff time.Time) (core.LedgerEntry, bool, error)

	// AnchorForYear returns the tenant's explicit anchor for a year, if any.
	AnchorForYear(ctx context.Context, tenant string, year int) (core.PeriodAnchor, bool, error)

	// LatestAnchorBefore returns the tenant's explicit anchor with the
	// greatest year strictly before the given year, if any.
	LatestAnchorBefore(ctx context.Context, tenant string, year int) (core.PeriodAnchor, bool, error)

	// InsertAnchor persists an explicit anchor. A second anchor for the same
	// (tenant, year) fails with core.ErrDuplicateAnchor.
	InsertAnchor(ctx context.Context, a core.PeriodAnchor) error

	GetCategory(ctx context.Context, tenant, id string) (core.CategoryTag, error)
	ListCategories(ctx context.Context, tenant string) ([]core.CategoryTag, error)
	InsertCategory(ctx context.Context, c core.CategoryTag) error
}

// Store opens ambient transactions. fn returning an error rolls everything
// back; otherwise the transaction commits before WithinTx returns.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
