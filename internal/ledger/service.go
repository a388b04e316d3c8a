// Package ledger implements the ledger engine: anchor resolution, full-replay
// balance recalculation and the three mutating operations (create, cancel,
// recategorize). Every mutation runs as one storage transaction ending in a
// recalculation pass, serialized per tenant, so callers either receive a
// fully recalculated entry or an error with no partial state left behind.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/SebasPM15/CashFlow-Backend/internal/core"
	"github.com/SebasPM15/CashFlow-Backend/internal/storage"
)

// Event kinds published after successful mutations.
const (
	EventEntryCreated       = "entry.created"
	EventEntryCancelled     = "entry.cancelled"
	EventEntryRecategorized = "entry.recategorized"
)

// Event describes one committed ledger mutation.
type Event struct {
	Tenant     string
	EntryID    string
	Kind       string
	Actor      string
	OccurredAt time.Time
}

// EventPublisher receives events after commit. Publishing is best-effort: a
// failure is logged, never propagated, because the mutation is already
// durable by the time the event exists.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, ev Event) error
}

// Config tunes the mutation retry loop. Retries apply to lock-contention
// storage errors only; validation errors are never retried.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		RetryBackoff: 50 * time.Millisecond,
	}
}

// Service is the transaction mutator plus the read-side queries.
type Service struct {
	store  storage.Store
	events EventPublisher
	cfg    Config

	now func() time.Time

	muMap map[string]*sync.Mutex // per-tenant write lock
	mapMu sync.Mutex             // protects muMap itself
}

// NewService wires the engine onto a store. events may be nil.
func NewService(store storage.Store, events EventPublisher, cfg Config) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	return &Service{
		store:  store,
		events: events,
		cfg:    cfg,
		now:    time.Now,
		muMap:  make(map[string]*sync.Mutex),
	}
}

// CreateParams holds the inputs for a new ledger entry.
type CreateParams struct {
	Tenant     string
	Actor      string
	CategoryID string
	OccurredAt time.Time
	Amount     decimal.Decimal
	Note       string
}

// CancelResult carries both rows touched by a cancellation.
type CancelResult struct {
	Cancelled core.LedgerEntry
	Reversal  core.LedgerEntry
}

// Balance is the answer to "what was the balance at the end of this month".
type Balance struct {
	Tenant string
	Year   int
	Month  int
	Amount decimal.Decimal
	Source core.AnchorSource
	AsOf   time.Time
}

// CreateEntry validates, writes and recalculates a new ACTIVE entry, then
// returns it with its final balance.
func (s *Service) CreateEntry(ctx context.Context, p CreateParams) (core.LedgerEntry, error) {
	if !p.Amount.IsPositive() {
		return core.LedgerEntry{}, core.ErrInvalidAmount
	}
	if p.OccurredAt.IsZero() {
		p.OccurredAt = s.now()
	}

	entry := core.LedgerEntry{
		Tenant:     p.Tenant,
		ID:         uuid.NewString(),
		OccurredAt: p.OccurredAt.UTC().Truncate(time.Second),
		CategoryID: p.CategoryID,
		Status:     core.StatusActive,
		Note:       p.Note,
	}

	err := s.mutate(ctx, p.Tenant, func(tx storage.Tx) error {
		cat, err := s.tenantCategory(ctx, tx, p.Tenant, p.CategoryID)
		if err != nil {
			return err
		}

		entry.Debit, entry.Credit = splitAmount(p.Amount, cat.Direction)
		if err := entry.Validate(); err != nil {
			return err
		}
		// The inserted balance is provisional; the replay below makes it
		// authoritative before commit.
		if err := tx.InsertEntry(ctx, &entry); err != nil {
			return err
		}
		if err := recalculate(ctx, tx, p.Tenant); err != nil {
			return err
		}

		entry, err = tx.GetEntry(ctx, p.Tenant, entry.ID)
		return err
	})
	if err != nil {
		return core.LedgerEntry{}, err
	}

	slog.InfoContext(ctx, "Ledger entry created",
		"tenant", p.Tenant,
		"entry_id", entry.ID,
		"category_id", entry.CategoryID,
		"amount", core.FormatAmount(p.Amount),
		"balance", core.FormatAmount(entry.Balance),
		"actor", p.Actor)

	s.publish(ctx, Event{
		Tenant:     p.Tenant,
		EntryID:    entry.ID,
		Kind:       EventEntryCreated,
		Actor:      p.Actor,
		OccurredAt: s.now(),
	})
	return entry, nil
}

// CancelEntry marks an ACTIVE entry CANCELLED and inserts a compensating
// reversal entry dated now, with debit and credit swapped. The original row
// is never deleted; the audit trail stays intact.
func (s *Service) CancelEntry(ctx context.Context, tenant, actor, entryID string) (CancelResult, error) {
	var result CancelResult

	err := s.mutate(ctx, tenant, func(tx storage.Tx) error {
		original, err := s.tenantEntry(ctx, tx, tenant, entryID)
		if err != nil {
			return err
		}
		if !original.Active() {
			return core.ErrAlreadyCancelled
		}

		original.Status = core.StatusCancelled
		original.Note = appendNote(original.Note, fmt.Sprintf("cancelled by %s", actor))
		if err := tx.UpdateEntry(ctx, original); err != nil {
			return err
		}

		reversal := core.LedgerEntry{
			Tenant:     tenant,
			ID:         uuid.NewString(),
			OccurredAt: s.now().UTC().Truncate(time.Second),
			CategoryID: original.CategoryID,
			Debit:      original.Credit,
			Credit:     original.Debit,
			Status:     core.StatusActive,
			Note:       fmt.Sprintf("reversal of %s", original.ID),
		}
		if err := tx.InsertEntry(ctx, &reversal); err != nil {
			return err
		}
		if err := recalculate(ctx, tx, tenant); err != nil {
			return err
		}

		if result.Cancelled, err = tx.GetEntry(ctx, tenant, original.ID); err != nil {
			return err
		}
		result.Reversal, err = tx.GetEntry(ctx, tenant, reversal.ID)
		return err
	})
	if err != nil {
		return CancelResult{}, err
	}

	slog.InfoContext(ctx, "Ledger entry cancelled",
		"tenant", tenant,
		"entry_id", result.Cancelled.ID,
		"reversal_id", result.Reversal.ID,
		"actor", actor)

	s.publish(ctx, Event{
		Tenant:     tenant,
		EntryID:    result.Cancelled.ID,
		Kind:       EventEntryCancelled,
		Actor:      actor,
		OccurredAt: s.now(),
	})
	return result, nil
}

// RecategorizeEntry moves an ACTIVE entry to another category with the same
// flow direction. Amounts and status are untouched; switching direction would
// silently change the accounting meaning of every downstream balance, so that
// has to be modeled as cancel + create instead.
func (s *Service) RecategorizeEntry(ctx context.Context, tenant, actor, entryID, newCategoryID string) (core.LedgerEntry, error) {
	var updated core.LedgerEntry

	err := s.mutate(ctx, tenant, func(tx storage.Tx) error {
		entry, err := s.tenantEntry(ctx, tx, tenant, entryID)
		if err != nil {
			return err
		}
		if !entry.Active() {
			return core.ErrAlreadyCancelled
		}

		oldCat, err := s.tenantCategory(ctx, tx, tenant, entry.CategoryID)
		if err != nil {
			return err
		}
		newCat, err := s.tenantCategory(ctx, tx, tenant, newCategoryID)
		if err != nil {
			return err
		}
		if newCat.Direction != oldCat.Direction {
			return core.ErrDirectionMismatch
		}

		entry.CategoryID = newCat.ID
		entry.Note = appendNote(entry.Note,
			fmt.Sprintf("recategorized %s -> %s by %s", oldCat.ID, newCat.ID, actor))
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		// Amounts are unchanged, but the invariant is re-proven after every
		// write rather than assumed.
		if err := recalculate(ctx, tx, tenant); err != nil {
			return err
		}

		updated, err = tx.GetEntry(ctx, tenant, entryID)
		return err
	})
	if err != nil {
		return core.LedgerEntry{}, err
	}

	slog.InfoContext(ctx, "Ledger entry recategorized",
		"tenant", tenant,
		"entry_id", updated.ID,
		"category_id", updated.CategoryID,
		"actor", actor)

	s.publish(ctx, Event{
		Tenant:     tenant,
		EntryID:    updated.ID,
		Kind:       EventEntryRecategorized,
		Actor:      actor,
		OccurredAt: s.now(),
	})
	return updated, nil
}

// SetAnchor records an explicit opening balance for (tenant, year). A second
// anchor for the same year is rejected, not merged. Balances are replayed in
// the same transaction because an anchor landing inside existing history
// re-bases part of the chain.
func (s *Service) SetAnchor(ctx context.Context, a core.PeriodAnchor) (core.PeriodAnchor, error) {
	if err := a.Validate(); err != nil {
		return core.PeriodAnchor{}, err
	}
	a.Amount = a.Amount.Round(2)

	err := s.mutate(ctx, a.Tenant, func(tx storage.Tx) error {
		if err := tx.InsertAnchor(ctx, a); err != nil {
			return err
		}
		return recalculate(ctx, tx, a.Tenant)
	})
	if err != nil {
		return core.PeriodAnchor{}, err
	}

	slog.InfoContext(ctx, "Period anchor set",
		"tenant", a.Tenant,
		"year", a.Year,
		"month", a.EffectiveMonth,
		"amount", core.FormatAmount(a.Amount))
	return a, nil
}

// Recalculate replays the whole tenant chain. Mutations already do this; the
// operation exists for audits and for callers that changed nothing but want
// the invariant re-proven.
func (s *Service) Recalculate(ctx context.Context, tenant string) error {
	return s.mutate(ctx, tenant, func(tx storage.Tx) error {
		return recalculate(ctx, tx, tenant)
	})
}

// ResolveAnchor exposes raw anchor resolution. Unlike every internal caller
// it does surface core.ErrNoAnchor, so the API can distinguish "starts from
// zero by policy" from "has a configured or inherited starting point".
func (s *Service) ResolveAnchor(ctx context.Context, tenant string, year, month int) (core.Anchor, error) {
	var anchor core.Anchor
	err := s.read(ctx, tenant, func(tx storage.Tx) error {
		var err error
		anchor, err = resolveAnchor(ctx, tx, tenant, year, month)
		return err
	})
	return anchor, err
}

// BalanceAsOf answers "what was the balance at the end of (year, month)".
// An explicit anchor that became effective after the last preceding entry
// supersedes it; with no entries and no anchor the zero policy applies.
func (s *Service) BalanceAsOf(ctx context.Context, tenant string, year, month int) (Balance, error) {
	b := Balance{Tenant: tenant, Year: year, Month: month}

	err := s.read(ctx, tenant, func(tx storage.Tx) error {
		nextMonth := monthStart(year, month).AddDate(0, 1, 0)

		last, haveEntry, err := tx.LastActiveBefore(ctx, tenant, nextMonth)
		if err != nil {
			return err
		}
		anchor, err := anchorOrZero(ctx, tx, tenant, year, month)
		if err != nil {
			return err
		}

		// The entry's stored balance is authoritative only if no anchor took
		// effect after it; an anchor re-bases the chain past the entry.
		if haveEntry && !last.OccurredAt.Before(anchor.Date) {
			b.Amount = last.Balance
			b.Source = core.AnchorInherited
			b.AsOf = last.OccurredAt
			return nil
		}
		b.Amount = anchor.Amount
		b.Source = anchor.Source
		b.AsOf = anchor.Date
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	return b, nil
}

// MonthStatement returns the month's ACTIVE entries in canonical order with
// opening/closing balances and per-category totals.
func (s *Service) MonthStatement(ctx context.Context, tenant string, year, month int) (core.MonthStatement, error) {
	stmt := core.MonthStatement{
		Tenant:      tenant,
		Year:        year,
		Month:       month,
		TotalDebit:  decimal.Zero,
		TotalCredit: decimal.Zero,
	}

	err := s.read(ctx, tenant, func(tx storage.Tx) error {
		from := monthStart(year, month)
		to := from.AddDate(0, 1, 0)

		opening, err := s.openingBalance(ctx, tx, tenant, year, month)
		if err != nil {
			return err
		}
		stmt.Opening = opening
		stmt.Closing = opening.Amount

		entries, err := tx.ActiveEntries(ctx, tenant)
		if err != nil {
			return err
		}

		cats, err := tx.ListCategories(ctx, tenant)
		if err != nil {
			return err
		}
		catByID := make(map[string]core.CategoryTag, len(cats))
		for _, c := range cats {
			catByID[c.ID] = c
		}

		totals := make(map[string]*core.CategoryTotal)
		var order []string
		for _, e := range entries {
			if e.OccurredAt.Before(from) || !e.OccurredAt.Before(to) {
				continue
			}
			stmt.Entries = append(stmt.Entries, e)
			stmt.TotalDebit = stmt.TotalDebit.Add(e.Debit)
			stmt.TotalCredit = stmt.TotalCredit.Add(e.Credit)
			stmt.Closing = e.Balance

			ct, ok := totals[e.CategoryID]
			if !ok {
				cat := catByID[e.CategoryID]
				ct = &core.CategoryTotal{
					CategoryID: e.CategoryID,
					Name:       cat.Name,
					Direction:  cat.Direction,
					Total:      decimal.Zero,
				}
				totals[e.CategoryID] = ct
				order = append(order, e.CategoryID)
			}
			ct.Total = ct.Total.Add(e.Amount())
		}
		for _, id := range order {
			stmt.ByCategory = append(stmt.ByCategory, *totals[id])
		}
		return nil
	})
	if err != nil {
		return core.MonthStatement{}, err
	}
	return stmt, nil
}

// CreateCategory adds a tag to the tenant's catalog.
func (s *Service) CreateCategory(ctx context.Context, c core.CategoryTag) (core.CategoryTag, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return core.CategoryTag{}, err
	}

	err := s.mutate(ctx, c.Tenant, func(tx storage.Tx) error {
		return tx.InsertCategory(ctx, c)
	})
	if err != nil {
		return core.CategoryTag{}, err
	}
	return c, nil
}

// Entry loads one entry by identifier, any status.
func (s *Service) Entry(ctx context.Context, tenant, id string) (core.LedgerEntry, error) {
	var entry core.LedgerEntry
	err := s.read(ctx, tenant, func(tx storage.Tx) error {
		var err error
		entry, err = s.tenantEntry(ctx, tx, tenant, id)
		return err
	})
	return entry, err
}

// ListCategories returns the tenant's catalog.
func (s *Service) ListCategories(ctx context.Context, tenant string) ([]core.CategoryTag, error) {
	var cats []core.CategoryTag
	err := s.read(ctx, tenant, func(tx storage.Tx) error {
		var err error
		cats, err = tx.ListCategories(ctx, tenant)
		return err
	})
	return cats, err
}

// openingBalance is BalanceAsOf for the instant before the month starts.
func (s *Service) openingBalance(ctx context.Context, tx storage.Tx, tenant string, year, month int) (core.Anchor, error) {
	from := monthStart(year, month)

	anchor, err := anchorOrZero(ctx, tx, tenant, year, month)
	if err != nil {
		return core.Anchor{}, err
	}

	last, haveEntry, err := tx.LastActiveBefore(ctx, tenant, from)
	if err != nil {
		return core.Anchor{}, err
	}
	if haveEntry && !last.OccurredAt.Before(anchor.Date) {
		return core.Anchor{
			Amount: last.Balance,
			Source: core.AnchorInherited,
			Date:   last.OccurredAt,
		}, nil
	}
	return anchor, nil
}

// mutate serializes the whole mutate-then-recalculate unit behind the
// tenant's lock and runs it inside one store transaction. Lock-contention
// storage errors are retried a bounded number of times with backoff; any
// other failure aborts immediately.
func (s *Service) mutate(ctx context.Context, tenant string, fn func(tx storage.Tx) error) error {
	if strings.TrimSpace(tenant) == "" {
		return core.ErrTenantMismatch
	}

	mu := s.tenantLock(tenant)
	mu.Lock()
	defer mu.Unlock()

	var err error
	for attempt := 0; ; attempt++ {
		err = s.store.WithinTx(ctx, fn)
		if err == nil || !isLockContention(err) || attempt >= s.cfg.MaxRetries {
			break
		}

		backoff := s.cfg.RetryBackoff << attempt
		slog.WarnContext(ctx, "Ledger transaction contention, retrying",
			"tenant", tenant,
			"attempt", attempt+1,
			"backoff", backoff.String())
		select {
		case <-ctx.Done():
			return wrapStorage(ctx.Err())
		case <-time.After(backoff):
		}
	}
	return wrapStorage(err)
}

// read runs a read-only unit without taking the tenant lock.
func (s *Service) read(ctx context.Context, tenant string, fn func(tx storage.Tx) error) error {
	if strings.TrimSpace(tenant) == "" {
		return core.ErrTenantMismatch
	}
	return wrapStorage(s.store.WithinTx(ctx, fn))
}

func (s *Service) tenantLock(tenant string) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	if _, exists := s.muMap[tenant]; !exists {
		s.muMap[tenant] = &sync.Mutex{}
	}
	return s.muMap[tenant]
}

// tenantEntry loads an entry and enforces the tenant boundary.
func (s *Service) tenantEntry(ctx context.Context, tx storage.Tx, tenant, id string) (core.LedgerEntry, error) {
	e, err := tx.GetEntry(ctx, tenant, id)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	if e.Tenant != tenant {
		return core.LedgerEntry{}, core.ErrTenantMismatch
	}
	return e, nil
}

func (s *Service) tenantCategory(ctx context.Context, tx storage.Tx, tenant, id string) (core.CategoryTag, error) {
	c, err := tx.GetCategory(ctx, tenant, id)
	if err != nil {
		return core.CategoryTag{}, err
	}
	if c.Tenant != tenant {
		return core.CategoryTag{}, core.ErrTenantMismatch
	}
	return c, nil
}

func (s *Service) publish(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishLedgerEvent(ctx, ev); err != nil {
		// The mutation is committed; losing a notification must not fail it.
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"tenant", ev.Tenant,
			"entry_id", ev.EntryID,
			"kind", ev.Kind,
			"error", err)
	}
}

func splitAmount(amount decimal.Decimal, dir core.FlowDirection) (debit, credit decimal.Decimal) {
	if dir == core.Debit {
		return amount, decimal.Zero
	}
	return decimal.Zero, amount
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}

func monthStart(year, month int) time.Time {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}

// domainErrs are expected validation failures that pass through untouched;
// anything else coming back from the store is a persistence fault and is
// reported as a generic StorageFailure.
var domainErrs = []error{
	core.ErrTenantMismatch,
	core.ErrUnknownCategory,
	core.ErrInvalidAmount,
	core.ErrNotFound,
	core.ErrAlreadyCancelled,
	core.ErrDirectionMismatch,
	core.ErrDuplicateAnchor,
	core.ErrNoAnchor,
}

func wrapStorage(err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range domainErrs {
		if errors.Is(err, domain) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", core.ErrStorageFailure, err)
}

func isLockContention(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy") ||
		strings.Contains(msg, "lock timeout")
}
