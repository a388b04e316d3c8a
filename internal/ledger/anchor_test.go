package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SebasPM15/CashFlow-Backend/internal/core"
)

func TestResolveAnchor_Explicit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustAnchor(t, svc, tenantA, 2025, 3, "1500.00")

	// Effective month reached: explicit anchor wins.
	a, err := svc.ResolveAnchor(ctx, tenantA, 2025, 3)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a.Source != core.AnchorExplicit || !a.Amount.Equal(amt("1500.00")) {
		t.Fatalf("anchor = %s %s, want EXPLICIT 1500.00", a.Source, core.FormatAmount(a.Amount))
	}
	if a.Date != time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("anchor date = %v, want first of March", a.Date)
	}

	// Later months of the same year still resolve to it.
	if a, err = svc.ResolveAnchor(ctx, tenantA, 2025, 11); err != nil || a.Source != core.AnchorExplicit {
		t.Fatalf("resolve November: %v (%s)", err, a.Source)
	}
}

func TestResolveAnchor_BeforeEffectiveMonth(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustAnchor(t, svc, tenantA, 2025, 3, "1500.00")

	// January precedes the anchor's effective month and there is no history
	// to inherit from.
	_, err := svc.ResolveAnchor(ctx, tenantA, 2025, 1)
	if !errors.Is(err, core.ErrNoAnchor) {
		t.Fatalf("resolve January: %v, want ErrNoAnchor", err)
	}
}

func TestResolveAnchor_InheritedFromPriorYear(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustAnchor(t, svc, tenantA, 2024, 1, "500.00")

	if _, err := svc.CreateEntry(ctx, CreateParams{
		Tenant: tenantA, Actor: "tester", CategoryID: catSales,
		OccurredAt: date(2024, 12, 20), Amount: amt("250.00"),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// 2025 has no explicit anchor; it inherits where 2024 left off.
	a, err := svc.ResolveAnchor(ctx, tenantA, 2025, 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a.Source != core.AnchorInherited {
		t.Fatalf("source = %s, want INHERITED", a.Source)
	}
	if !a.Amount.Equal(amt("750.00")) {
		t.Fatalf("inherited amount = %s, want 750.00", core.FormatAmount(a.Amount))
	}
	if a.Date != date(2024, 12, 20) {
		t.Fatalf("anchor date = %v, want the entry's date", a.Date)
	}
}

func TestResolveAnchor_PriorYearAnchorAfterLastEntry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// The last movement predates the anchor's effective month, so the anchor
	// amount, not the stale entry balance, is what the next year inherits.
	if _, err := svc.CreateEntry(ctx, CreateParams{
		Tenant: tenantA, Actor: "tester", CategoryID: catSales,
		OccurredAt: date(2025, 1, 10), Amount: amt("100.00"),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	mustAnchor(t, svc, tenantA, 2025, 3, "1000.00")

	a, err := svc.ResolveAnchor(ctx, tenantA, 2026, 1)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a.Source != core.AnchorInherited || !a.Amount.Equal(amt("1000.00")) {
		t.Fatalf("anchor = %s %s, want INHERITED 1000.00", a.Source, core.FormatAmount(a.Amount))
	}
	if a.Date != time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("anchor date = %v, want the anchor's effective date", a.Date)
	}
}

func TestBalanceAsOf_ContinuousAcrossYearBoundary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateEntry(ctx, CreateParams{
		Tenant: tenantA, Actor: "tester", CategoryID: catSales,
		OccurredAt: date(2025, 1, 10), Amount: amt("100.00"),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	mustAnchor(t, svc, tenantA, 2025, 3, "1000.00")

	// With no movement between December and January the balance must not
	// jump at the year boundary.
	dec, err := svc.BalanceAsOf(ctx, tenantA, 2025, 12)
	if err != nil {
		t.Fatalf("December balance: %v", err)
	}
	jan, err := svc.BalanceAsOf(ctx, tenantA, 2026, 1)
	if err != nil {
		t.Fatalf("January balance: %v", err)
	}
	if !dec.Amount.Equal(amt("1000.00")) {
		t.Fatalf("December balance = %s, want 1000.00", core.FormatAmount(dec.Amount))
	}
	if !jan.Amount.Equal(dec.Amount) {
		t.Fatalf("January balance = %s, December = %s: discontinuous across the year boundary",
			core.FormatAmount(jan.Amount), core.FormatAmount(dec.Amount))
	}
	if jan.Source != core.AnchorInherited {
		t.Fatalf("January source = %s, want INHERITED", jan.Source)
	}

	// A new entry next year chains from the inherited anchor amount.
	next, err := svc.CreateEntry(ctx, CreateParams{
		Tenant: tenantA, Actor: "tester", CategoryID: catRent,
		OccurredAt: date(2026, 1, 15), Amount: amt("250.00"),
	})
	if err != nil {
		t.Fatalf("create 2026 entry: %v", err)
	}
	if !next.Balance.Equal(amt("750.00")) {
		t.Fatalf("2026 balance = %s, want 750.00", core.FormatAmount(next.Balance))
	}
}

func TestResolveAnchor_NoAnchorNoHistory(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ResolveAnchor(context.Background(), tenantA, 2025, 6)
	if !errors.Is(err, core.ErrNoAnchor) {
		t.Fatalf("resolve: %v, want ErrNoAnchor", err)
	}
}

func TestAnchorPrecedence_MidChainRebase(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// January entries start from the zero policy (no anchor, no history).
	if _, err := svc.CreateEntry(ctx, CreateParams{
		Tenant: tenantA, Actor: "tester", CategoryID: catSales,
		OccurredAt: date(2025, 1, 10), Amount: amt("100.00"),
	}); err != nil {
		t.Fatalf("create January entry: %v", err)
	}

	// An explicit anchor effective March re-bases everything from March on.
	mustAnchor(t, svc, tenantA, 2025, 3, "1000.00")

	april, err := svc.CreateEntry(ctx, CreateParams{
		Tenant: tenantA, Actor: "tester", CategoryID: catRent,
		OccurredAt: date(2025, 4, 2), Amount: amt("300.00"),
	})
	if err != nil {
		t.Fatalf("create April entry: %v", err)
	}

	// April chains from the anchor, not from January's inherited 100.00.
	if !april.Balance.Equal(amt("700.00")) {
		t.Fatalf("April balance = %s, want 700.00", core.FormatAmount(april.Balance))
	}

	// January is unaffected by the later anchor.
	stmt, err := svc.MonthStatement(ctx, tenantA, 2025, 1)
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if !stmt.Entries[0].Balance.Equal(amt("100.00")) {
		t.Fatalf("January balance = %s, want 100.00", core.FormatAmount(stmt.Entries[0].Balance))
	}
}

func TestBalanceAsOf(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustAnchor(t, svc, tenantA, 2025, 1, "1000.00")

	if _, err := svc.CreateEntry(ctx, CreateParams{
		Tenant: tenantA, Actor: "tester", CategoryID: catRent,
		OccurredAt: date(2025, 1, 5), Amount: amt("200.00"),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name   string
		year   int
		month  int
		amount string
		source core.AnchorSource
	}{
		{"month with entries", 2025, 1, "800.00", core.AnchorInherited},
		{"later empty month carries forward", 2025, 4, "800.00", core.AnchorInherited},
		{"next year inherits", 2026, 2, "800.00", core.AnchorInherited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := svc.BalanceAsOf(ctx, tenantA, tt.year, tt.month)
			if err != nil {
				t.Fatalf("balance: %v", err)
			}
			if !b.Amount.Equal(amt(tt.amount)) || b.Source != tt.source {
				t.Fatalf("balance = %s (%s), want %s (%s)",
					core.FormatAmount(b.Amount), b.Source, tt.amount, tt.source)
			}
		})
	}
}

func TestBalanceAsOf_AnchorSupersedesOlderEntries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateEntry(ctx, CreateParams{
		Tenant: tenantA, Actor: "tester", CategoryID: catSales,
		OccurredAt: date(2025, 1, 10), Amount: amt("100.00"),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	mustAnchor(t, svc, tenantA, 2025, 3, "1000.00")

	// As of March the explicit anchor is newer than the last entry.
	b, err := svc.BalanceAsOf(ctx, tenantA, 2025, 3)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !b.Amount.Equal(amt("1000.00")) || b.Source != core.AnchorExplicit {
		t.Fatalf("balance = %s (%s), want 1000.00 (EXPLICIT)",
			core.FormatAmount(b.Amount), b.Source)
	}

	// As of January the anchor is not yet effective.
	b, err = svc.BalanceAsOf(ctx, tenantA, 2025, 1)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !b.Amount.Equal(amt("100.00")) {
		t.Fatalf("January balance = %s, want 100.00", core.FormatAmount(b.Amount))
	}
}

func TestMonthStatement_Totals(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	mustAnchor(t, svc, tenantA, 2025, 1, "1000.00")

	for _, c := range []struct {
		cat, amount string
		day         int
	}{
		{catRent, "200.00", 5},
		{catRent, "100.00", 12},
		{catSales, "400.00", 20},
	} {
		if _, err := svc.CreateEntry(ctx, CreateParams{
			Tenant: tenantA, Actor: "tester", CategoryID: c.cat,
			OccurredAt: date(2025, 1, c.day), Amount: amt(c.amount),
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	// Outside the statement month.
	if _, err := svc.CreateEntry(ctx, CreateParams{
		Tenant: tenantA, Actor: "tester", CategoryID: catRent,
		OccurredAt: date(2025, 2, 1), Amount: amt("999.00"),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	stmt, err := svc.MonthStatement(ctx, tenantA, 2025, 1)
	if err != nil {
		t.Fatalf("statement: %v", err)
	}

	if len(stmt.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(stmt.Entries))
	}
	if !stmt.Opening.Amount.Equal(amt("1000.00")) || stmt.Opening.Source != core.AnchorExplicit {
		t.Fatalf("opening = %s (%s)", core.FormatAmount(stmt.Opening.Amount), stmt.Opening.Source)
	}
	if !stmt.TotalDebit.Equal(amt("300.00")) || !stmt.TotalCredit.Equal(amt("400.00")) {
		t.Fatalf("totals = %s / %s, want 300.00 / 400.00",
			core.FormatAmount(stmt.TotalDebit), core.FormatAmount(stmt.TotalCredit))
	}
	if !stmt.Closing.Equal(amt("1100.00")) {
		t.Fatalf("closing = %s, want 1100.00", core.FormatAmount(stmt.Closing))
	}

	if len(stmt.ByCategory) != 2 {
		t.Fatalf("category totals = %d, want 2", len(stmt.ByCategory))
	}
	if stmt.ByCategory[0].CategoryID != catRent || !stmt.ByCategory[0].Total.Equal(amt("300.00")) {
		t.Fatalf("rent total = %s", core.FormatAmount(stmt.ByCategory[0].Total))
	}
}
