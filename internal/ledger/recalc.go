package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SebasPM15/CashFlow-Backend/internal/core"
	"github.com/SebasPM15/CashFlow-Backend/internal/storage"
)

// recalculate rewrites every ACTIVE entry's balance for a tenant from scratch.
//
// It is a total replay in canonical order, not a suffix patch: after any
// mutation the whole chain is re-proven from its anchor, so the stored
// balances hold no matter how entries were historically inserted, cancelled
// or edited. Only rows whose balance actually changed are written back.
// Calling it twice with no intervening mutation writes nothing the second
// time.
func recalculate(ctx context.Context, tx storage.Tx, tenant string) error {
	entries, err := tx.ActiveEntries(ctx, tenant)
	if err != nil {
		return fmt.Errorf("load active entries: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	first := entries[0]
	anchor, err := anchorOrZero(ctx, tx, tenant, first.OccurredAt.Year(), int(first.OccurredAt.Month()))
	if err != nil {
		return err
	}

	// Explicit anchors that take effect inside the chain reset the running
	// balance when the walk crosses their effective date. Entries before an
	// anchor's effective month keep their old base; entries from that month
	// onward chain from the anchor amount instead.
	pending, err := anchorsWithin(ctx, tx, tenant, entries)
	if err != nil {
		return err
	}

	running := anchor.Amount
	changed := 0
	for _, e := range entries {
		for len(pending) > 0 && !e.OccurredAt.Before(pending[0].EffectiveDate()) {
			running = pending[0].Amount
			pending = pending[1:]
		}

		balance := running.Add(e.Credit).Sub(e.Debit)
		if !balance.Equal(e.Balance) {
			e.Balance = balance
			if err := tx.UpdateEntry(ctx, e); err != nil {
				return fmt.Errorf("rewrite balance of entry %s: %w", e.ID, err)
			}
			changed++
		}
		running = balance
	}

	if changed > 0 {
		slog.DebugContext(ctx, "Ledger balances recalculated",
			"tenant", tenant,
			"entries", len(entries),
			"rewritten", changed)
	}
	return nil
}

// anchorsWithin collects the tenant's explicit anchors whose effective date
// falls after the chain's first entry month, ordered by effective date. The
// anchor at or before the chain start is the resolver's business, not ours.
func anchorsWithin(ctx context.Context, tx storage.Tx, tenant string, entries []core.LedgerEntry) ([]core.PeriodAnchor, error) {
	first, last := entries[0], entries[len(entries)-1]
	chainStart := monthStart(first.OccurredAt.Year(), int(first.OccurredAt.Month()))

	var out []core.PeriodAnchor
	for year := first.OccurredAt.Year(); year <= last.OccurredAt.Year(); year++ {
		a, ok, err := tx.AnchorForYear(ctx, tenant, year)
		if err != nil {
			return nil, fmt.Errorf("look up anchor for %d: %w", year, err)
		}
		if ok && a.EffectiveDate().After(chainStart) {
			out = append(out, a)
		}
	}
	// One anchor per year and years ascend, so out is already date-ordered.
	return out, nil
}
