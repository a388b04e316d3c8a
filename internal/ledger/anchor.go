package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SebasPM15/CashFlow-Backend/internal/core"
	"github.com/SebasPM15/CashFlow-Backend/internal/storage"
)

// resolveAnchor determines the opening balance for a tenant's (year, month).
//
// Resolution is two-tier: an explicit PeriodAnchor for the year whose
// effective month has been reached wins; otherwise the chain inherits from
// wherever the prior years left off. That is the later of the canonically
// last ACTIVE entry before Jan 1 and the latest prior-year explicit anchor:
// an anchor that post-dates the last entry re-based the chain after that
// entry's stored balance, so its amount, not the entry's, carries forward.
// With neither, core.ErrNoAnchor is returned and the caller applies the
// zero-fallback policy (see anchorOrZero).
func resolveAnchor(ctx context.Context, tx storage.Tx, tenant string, year, month int) (core.Anchor, error) {
	a, ok, err := tx.AnchorForYear(ctx, tenant, year)
	if err != nil {
		return core.Anchor{}, fmt.Errorf("look up anchor for %d: %w", year, err)
	}
	if ok && a.EffectiveMonth <= month {
		return core.Anchor{
			Amount: a.Amount,
			Source: core.AnchorExplicit,
			Date:   a.EffectiveDate(),
		}, nil
	}

	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	e, haveEntry, err := tx.LastActiveBefore(ctx, tenant, jan1)
	if err != nil {
		return core.Anchor{}, fmt.Errorf("look up inherited anchor: %w", err)
	}
	prior, havePrior, err := tx.LatestAnchorBefore(ctx, tenant, year)
	if err != nil {
		return core.Anchor{}, fmt.Errorf("look up prior anchor: %w", err)
	}

	if havePrior && (!haveEntry || e.OccurredAt.Before(prior.EffectiveDate())) {
		return core.Anchor{
			Amount: prior.Amount,
			Source: core.AnchorInherited,
			Date:   prior.EffectiveDate(),
		}, nil
	}
	if haveEntry {
		return core.Anchor{
			Amount: e.Balance,
			Source: core.AnchorInherited,
			Date:   e.OccurredAt,
		}, nil
	}

	return core.Anchor{Source: core.AnchorNone}, core.ErrNoAnchor
}

// anchorOrZero is the engine-wide NoAnchor policy: every internal consumer
// (recalculation, balance and statement reads) starts from zero when no
// explicit or inherited anchor exists. Only the ResolveAnchor operation
// surfaces ErrNoAnchor, so API callers can still tell the cases apart.
func anchorOrZero(ctx context.Context, tx storage.Tx, tenant string, year, month int) (core.Anchor, error) {
	a, err := resolveAnchor(ctx, tx, tenant, year, month)
	if err == core.ErrNoAnchor {
		return core.Anchor{Amount: decimal.Zero, Source: core.AnchorNone}, nil
	}
	return a, err
}
