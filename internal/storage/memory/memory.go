// Package memory provides an in-memory storage.Store with real transaction
// semantics: each WithinTx runs against a deep copy of the state and the copy
// is swapped in only on success, so a failed mutation leaves nothing behind.
// It backs tests and the "memory" data backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SebasPM15/CashFlow-Backend/internal/core"
	"github.com/SebasPM15/CashFlow-Backend/internal/storage"
)

type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	entries []core.LedgerEntry
	anchors map[string]core.PeriodAnchor
	cats    map[string]core.CategoryTag
	nextSeq int64
}

func New() *Store {
	return &Store{state: &state{
		anchors: make(map[string]core.PeriodAnchor),
		cats:    make(map[string]core.CategoryTag),
		nextSeq: 1,
	}}
}

func (s *Store) Close() error { return nil }

// WithinTx serializes all transactions behind one mutex. Good enough for a
// fake; contention behaviour is the SQLite store's concern.
func (s *Store) WithinTx(_ context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (st *state) clone() *state {
	c := &state{
		entries: append([]core.LedgerEntry(nil), st.entries...),
		anchors: make(map[string]core.PeriodAnchor, len(st.anchors)),
		cats:    make(map[string]core.CategoryTag, len(st.cats)),
		nextSeq: st.nextSeq,
	}
	for k, v := range st.anchors {
		c.anchors[k] = v
	}
	for k, v := range st.cats {
		c.cats[k] = v
	}
	return c
}

func anchorKey(tenant string, year int) string { return fmt.Sprintf("%s|%d", tenant, year) }
func catKey(tenant, id string) string          { return tenant + "|" + id }

type memTx struct {
	state *state
}

var _ storage.Tx = (*memTx)(nil)

func (t *memTx) ActiveEntries(_ context.Context, tenant string) ([]core.LedgerEntry, error) {
	var out []core.LedgerEntry
	for _, e := range t.state.entries {
		if e.Tenant == tenant && e.Active() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (t *memTx) GetEntry(_ context.Context, tenant, id string) (core.LedgerEntry, error) {
	for _, e := range t.state.entries {
		if e.Tenant == tenant && e.ID == id {
			return e, nil
		}
	}
	return core.LedgerEntry{}, core.ErrNotFound
}

func (t *memTx) InsertEntry(_ context.Context, e *core.LedgerEntry) error {
	e.Sequence = t.state.nextSeq
	t.state.nextSeq++
	t.state.entries = append(t.state.entries, *e)
	return nil
}

func (t *memTx) UpdateEntry(_ context.Context, e core.LedgerEntry) error {
	for i, existing := range t.state.entries {
		if existing.Tenant == e.Tenant && existing.ID == e.ID {
			e.Sequence = existing.Sequence
			t.state.entries[i] = e
			return nil
		}
	}
	return core.ErrNotFound
}

func (t *memTx) LastActiveBefore(_ context.Context, tenant string, cutoff time.Time) (core.LedgerEntry, bool, error) {
	var (
		best  core.LedgerEntry
		found bool
	)
	for _, e := range t.state.entries {
		if e.Tenant != tenant || !e.Active() || !e.OccurredAt.Before(cutoff) {
			continue
		}
		if !found || best.Before(e) {
			best = e
			found = true
		}
	}
	return best, found, nil
}

func (t *memTx) AnchorForYear(_ context.Context, tenant string, year int) (core.PeriodAnchor, bool, error) {
	a, ok := t.state.anchors[anchorKey(tenant, year)]
	return a, ok, nil
}

func (t *memTx) LatestAnchorBefore(_ context.Context, tenant string, year int) (core.PeriodAnchor, bool, error) {
	var (
		best  core.PeriodAnchor
		found bool
	)
	for _, a := range t.state.anchors {
		if a.Tenant != tenant || a.Year >= year {
			continue
		}
		if !found || a.Year > best.Year {
			best = a
			found = true
		}
	}
	return best, found, nil
}

func (t *memTx) InsertAnchor(_ context.Context, a core.PeriodAnchor) error {
	key := anchorKey(a.Tenant, a.Year)
	if _, ok := t.state.anchors[key]; ok {
		return core.ErrDuplicateAnchor
	}
	t.state.anchors[key] = a
	return nil
}

func (t *memTx) GetCategory(_ context.Context, tenant, id string) (core.CategoryTag, error) {
	c, ok := t.state.cats[catKey(tenant, id)]
	if !ok {
		return core.CategoryTag{}, core.ErrUnknownCategory
	}
	return c, nil
}

func (t *memTx) ListCategories(_ context.Context, tenant string) ([]core.CategoryTag, error) {
	var out []core.CategoryTag
	for _, c := range t.state.cats {
		if c.Tenant == tenant {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memTx) InsertCategory(_ context.Context, c core.CategoryTag) error {
	key := catKey(c.Tenant, c.ID)
	if _, ok := t.state.cats[key]; ok {
		return fmt.Errorf("category %s already exists", c.ID)
	}
	t.state.cats[key] = c
	return nil
}
