// Package worker consumes ledger events and does the out-of-band work the
// engine itself must not block on: notification delivery and periodic
// re-verification of the balance-chain invariant.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SebasPM15/CashFlow-Backend/internal/amqp"
	"github.com/SebasPM15/CashFlow-Backend/internal/core"
	"github.com/SebasPM15/CashFlow-Backend/internal/ledger"
)

// StatementExporter pushes a month statement to an external surface, e.g. a
// spreadsheet. Optional.
type StatementExporter interface {
	AppendStatement(ctx context.Context, stmt core.MonthStatement) error
}

// NotifyWorker turns committed-mutation events into notifications and audits.
// The actual mail/chat delivery lives outside this system; the worker emits
// the notification payload to the log and, when configured, exports the
// affected month's statement.
type NotifyWorker struct {
	ledger   *ledger.Service
	exporter StatementExporter

	mu   sync.Mutex
	seen map[string]time.Time // tenants touched since the last audit pass
}

func NewNotifyWorker(svc *ledger.Service, exporter StatementExporter) *NotifyWorker {
	return &NotifyWorker{
		ledger:   svc,
		exporter: exporter,
		seen:     make(map[string]time.Time),
	}
}

// HandleEvent processes one ledger event. Errors requeue the message, so
// everything here must be safe to run more than once for the same event.
func (w *NotifyWorker) HandleEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error {
	entry, err := w.ledger.Entry(ctx, msg.Tenant, msg.EntryID)
	if err != nil {
		return fmt.Errorf("load entry for event: %w", err)
	}

	slog.InfoContext(ctx, "Ledger notification",
		"tenant", msg.Tenant,
		"kind", msg.Kind,
		"entry_id", entry.ID,
		"category_id", entry.CategoryID,
		"debit", core.FormatAmount(entry.Debit),
		"credit", core.FormatAmount(entry.Credit),
		"balance", core.FormatAmount(entry.Balance),
		"status", string(entry.Status),
		"actor", msg.Actor)

	if err := w.ledger.Verify(ctx, msg.Tenant); err != nil {
		// Surfacing this requeues the event and keeps the alarm ringing
		// until somebody looks.
		return fmt.Errorf("post-event verification: %w", err)
	}

	w.markSeen(msg.Tenant)

	if w.exporter != nil {
		year, month := entry.OccurredAt.Year(), int(entry.OccurredAt.Month())
		if err := w.ExportStatement(ctx, msg.Tenant, year, month); err != nil {
			// Export is a convenience surface; losing one refresh is fine.
			slog.ErrorContext(ctx, "Statement export failed",
				"tenant", msg.Tenant, "year", year, "month", month, "error", err)
		}
	}
	return nil
}

// AuditRecentTenants re-verifies every tenant touched since the previous
// pass. A backup for events lost between broker and worker.
func (w *NotifyWorker) AuditRecentTenants(ctx context.Context) error {
	w.mu.Lock()
	tenants := make([]string, 0, len(w.seen))
	for tenant := range w.seen {
		tenants = append(tenants, tenant)
	}
	w.seen = make(map[string]time.Time)
	w.mu.Unlock()

	var failed int
	for _, tenant := range tenants {
		if err := w.ledger.Verify(ctx, tenant); err != nil {
			failed++
			slog.ErrorContext(ctx, "Ledger audit failed",
				"tenant", tenant, "error", err)
			// Keep a failing tenant on the list for the next pass.
			w.markSeen(tenant)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tenants failed audit", failed, len(tenants))
	}

	if len(tenants) > 0 {
		slog.InfoContext(ctx, "Ledger audit completed", "tenants", len(tenants))
	}
	return nil
}

// ExportStatement pushes one (tenant, year, month) statement to the exporter.
func (w *NotifyWorker) ExportStatement(ctx context.Context, tenant string, year, month int) error {
	if w.exporter == nil {
		return nil
	}
	stmt, err := w.ledger.MonthStatement(ctx, tenant, year, month)
	if err != nil {
		return fmt.Errorf("build statement: %w", err)
	}
	if err := w.exporter.AppendStatement(ctx, stmt); err != nil {
		return fmt.Errorf("append statement: %w", err)
	}

	slog.InfoContext(ctx, "Statement exported",
		"tenant", tenant, "year", year, "month", month,
		"entries", len(stmt.Entries))
	return nil
}

func (w *NotifyWorker) markSeen(tenant string) {
	w.mu.Lock()
	w.seen[tenant] = time.Now()
	w.mu.Unlock()
}
