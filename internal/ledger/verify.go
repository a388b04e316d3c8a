package ledger

import (
	"context"
	"fmt"

	"github.com/SebasPM15/CashFlow-Backend/internal/core"
	"github.com/SebasPM15/CashFlow-Backend/internal/storage"
)

// Verify replays a tenant's chain without writing and compares the computed
// balances with the stored ones. A mismatch means something bypassed the
// mutator, and is reported with enough context to find the broken row.
func (s *Service) Verify(ctx context.Context, tenant string) error {
	var mismatch error

	err := s.read(ctx, tenant, func(tx storage.Tx) error {
		entries, err := tx.ActiveEntries(ctx, tenant)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		first := entries[0]
		anchor, err := anchorOrZero(ctx, tx, tenant, first.OccurredAt.Year(), int(first.OccurredAt.Month()))
		if err != nil {
			return err
		}
		pending, err := anchorsWithin(ctx, tx, tenant, entries)
		if err != nil {
			return err
		}

		running := anchor.Amount
		for i, e := range entries {
			for len(pending) > 0 && !e.OccurredAt.Before(pending[0].EffectiveDate()) {
				running = pending[0].Amount
				pending = pending[1:]
			}
			want := running.Add(e.Credit).Sub(e.Debit)
			if !e.Balance.Equal(want) {
				mismatch = fmt.Errorf("balance chain broken at entry %s (position %d): stored %s, replay gives %s",
					e.ID, i, core.FormatAmount(e.Balance), core.FormatAmount(want))
				return nil
			}
			running = want
		}
		return nil
	})
	if err != nil {
		return err
	}
	return mismatch
}
