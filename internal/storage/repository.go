package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SebasPM15/CashFlow-Backend/internal/core"

	_ "modernc.org/sqlite"
)

// timeLayout is how occurred_at is persisted. Second precision is enough:
// canonical order falls back to the insertion sequence for ties anyway.
const timeLayout = "2006-01-02T15:04:05Z"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// A single writer keeps SQLite's locking behaviour predictable; the
	// engine serializes writers per tenant above this layer anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// WithinTx runs fn inside one SQL transaction. fn's error rolls back.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&sqliteTx{tx: dbTx}); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

var _ Tx = (*sqliteTx)(nil)

const entryColumns = `seq, tenant, id, occurred_at, category_id, debit, credit, balance, status, note`

func (t *sqliteTx) ActiveEntries(ctx context.Context, tenant string) ([]core.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE tenant = ? AND status = 'ACTIVE'
		ORDER BY occurred_at ASC, seq ASC`

	rows, err := t.tx.QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, fmt.Errorf("scan active entries: %w", err)
	}
	defer rows.Close()

	var entries []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active entries: %w", err)
	}
	return entries, nil
}

func (t *sqliteTx) GetEntry(ctx context.Context, tenant, id string) (core.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE tenant = ? AND id = ?`

	e, err := scanEntry(t.tx.QueryRowContext(ctx, query, tenant, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerEntry{}, core.ErrNotFound
	}
	if err != nil {
		return core.LedgerEntry{}, err
	}
	return e, nil
}

func (t *sqliteTx) InsertEntry(ctx context.Context, e *core.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries
		(tenant, id, occurred_at, category_id, debit, credit, balance, status, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := t.tx.ExecContext(ctx, query,
		e.Tenant, e.ID, e.OccurredAt.UTC().Format(timeLayout), e.CategoryID,
		e.Debit.String(), e.Credit.String(), e.Balance.String(),
		string(e.Status), e.Note)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read entry sequence: %w", err)
	}
	e.Sequence = seq
	return nil
}

func (t *sqliteTx) UpdateEntry(ctx context.Context, e core.LedgerEntry) error {
	const query = `UPDATE ledger_entries
		SET occurred_at = ?, category_id = ?, debit = ?, credit = ?, balance = ?, status = ?, note = ?
		WHERE tenant = ? AND id = ?`

	res, err := t.tx.ExecContext(ctx, query,
		e.OccurredAt.UTC().Format(timeLayout), e.CategoryID,
		e.Debit.String(), e.Credit.String(), e.Balance.String(),
		string(e.Status), e.Note,
		e.Tenant, e.ID)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entry rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (t *sqliteTx) LastActiveBefore(ctx context.Context, tenant string, cutoff time.Time) (core.LedgerEntry, bool, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE tenant = ? AND status = 'ACTIVE' AND occurred_at < ?
		ORDER BY occurred_at DESC, seq DESC
		LIMIT 1`

	e, err := scanEntry(t.tx.QueryRowContext(ctx, query, tenant, cutoff.UTC().Format(timeLayout)))
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerEntry{}, false, nil
	}
	if err != nil {
		return core.LedgerEntry{}, false, err
	}
	return e, true, nil
}

func (t *sqliteTx) AnchorForYear(ctx context.Context, tenant string, year int) (core.PeriodAnchor, bool, error) {
	const query = `SELECT tenant, year, effective_month, amount FROM period_anchors
		WHERE tenant = ? AND year = ?`

	var (
		a      core.PeriodAnchor
		amount string
	)
	err := t.tx.QueryRowContext(ctx, query, tenant, year).
		Scan(&a.Tenant, &a.Year, &a.EffectiveMonth, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PeriodAnchor{}, false, nil
	}
	if err != nil {
		return core.PeriodAnchor{}, false, fmt.Errorf("scan anchor: %w", err)
	}
	if a.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.PeriodAnchor{}, false, fmt.Errorf("parse anchor amount %q: %w", amount, err)
	}
	return a, true, nil
}

func (t *sqliteTx) LatestAnchorBefore(ctx context.Context, tenant string, year int) (core.PeriodAnchor, bool, error) {
	const query = `SELECT tenant, year, effective_month, amount FROM period_anchors
		WHERE tenant = ? AND year < ?
		ORDER BY year DESC
		LIMIT 1`

	var (
		a      core.PeriodAnchor
		amount string
	)
	err := t.tx.QueryRowContext(ctx, query, tenant, year).
		Scan(&a.Tenant, &a.Year, &a.EffectiveMonth, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PeriodAnchor{}, false, nil
	}
	if err != nil {
		return core.PeriodAnchor{}, false, fmt.Errorf("scan prior anchor: %w", err)
	}
	if a.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.PeriodAnchor{}, false, fmt.Errorf("parse anchor amount %q: %w", amount, err)
	}
	return a, true, nil
}

func (t *sqliteTx) InsertAnchor(ctx context.Context, a core.PeriodAnchor) error {
	// The primary key on (tenant, year) backs the one-anchor-per-year
	// invariant; the pre-check turns the violation into a domain error.
	if _, ok, err := t.AnchorForYear(ctx, a.Tenant, a.Year); err != nil {
		return err
	} else if ok {
		return core.ErrDuplicateAnchor
	}

	const query = `INSERT INTO period_anchors (tenant, year, effective_month, amount)
		VALUES (?, ?, ?, ?)`

	if _, err := t.tx.ExecContext(ctx, query, a.Tenant, a.Year, a.EffectiveMonth, a.Amount.String()); err != nil {
		return fmt.Errorf("insert anchor: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetCategory(ctx context.Context, tenant, id string) (core.CategoryTag, error) {
	const query = `SELECT tenant, id, name, direction FROM categories
		WHERE tenant = ? AND id = ?`

	var c core.CategoryTag
	err := t.tx.QueryRowContext(ctx, query, tenant, id).
		Scan(&c.Tenant, &c.ID, &c.Name, (*string)(&c.Direction))
	if errors.Is(err, sql.ErrNoRows) {
		return core.CategoryTag{}, core.ErrUnknownCategory
	}
	if err != nil {
		return core.CategoryTag{}, fmt.Errorf("scan category: %w", err)
	}
	return c, nil
}

func (t *sqliteTx) ListCategories(ctx context.Context, tenant string) ([]core.CategoryTag, error) {
	const query = `SELECT tenant, id, name, direction FROM categories
		WHERE tenant = ? ORDER BY name ASC`

	rows, err := t.tx.QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []core.CategoryTag
	for rows.Next() {
		var c core.CategoryTag
		if err := rows.Scan(&c.Tenant, &c.ID, &c.Name, (*string)(&c.Direction)); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return cats, nil
}

func (t *sqliteTx) InsertCategory(ctx context.Context, c core.CategoryTag) error {
	const query = `INSERT INTO categories (tenant, id, name, direction)
		VALUES (?, ?, ?, ?)`

	if _, err := t.tx.ExecContext(ctx, query, c.Tenant, c.ID, c.Name, string(c.Direction)); err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (core.LedgerEntry, error) {
	var (
		e                              core.LedgerEntry
		occurredAt                     string
		debit, credit, balance, status string
	)
	err := row.Scan(&e.Sequence, &e.Tenant, &e.ID, &occurredAt, &e.CategoryID,
		&debit, &credit, &balance, &status, &e.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerEntry{}, sql.ErrNoRows
	}
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("scan entry: %w", err)
	}

	if e.OccurredAt, err = time.Parse(timeLayout, occurredAt); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("parse occurred_at %q: %w", occurredAt, err)
	}
	if e.Debit, err = decimal.NewFromString(debit); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("parse debit %q: %w", debit, err)
	}
	if e.Credit, err = decimal.NewFromString(credit); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("parse credit %q: %w", credit, err)
	}
	if e.Balance, err = decimal.NewFromString(balance); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	e.Status = core.EntryStatus(status)
	return e, nil
}
