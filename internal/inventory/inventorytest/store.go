// Package inventorytest provides an in-memory inventory.Store with row
// locking semantics close to Postgres READ COMMITTED, for tests.
package inventorytest

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-order-placement/internal/inventory"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Store struct {
	mu        sync.Mutex
	released  *sync.Cond
	committed map[primitive.ObjectID]inventory.StockRecord
	owners    map[primitive.ObjectID]*tx

	// BeforeCAS, when set, runs before every compare-and-swap outside the
	// store lock. Tests use it to commit competing writes with Bump.
	BeforeCAS func(id primitive.ObjectID)

	stats Stats
}

type Stats struct {
	Transactions int
	BatchReads   int
	SingleReads  int
	CASAttempts  int
	Commits      int
}

func New(records ...inventory.StockRecord) *Store {
	s := &Store{
		committed: make(map[primitive.ObjectID]inventory.StockRecord, len(records)),
		owners:    make(map[primitive.ObjectID]*tx),
	}
	s.released = sync.NewCond(&s.mu)
	for _, r := range records {
		s.committed[r.ProductID] = r
	}
	return s
}

// Get returns the committed record.
func (s *Store) Get(id primitive.ObjectID) (inventory.StockRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.committed[id]
	return r, ok
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Bump commits a competing write outside any reservation: it adds delta to
// the quantity and increments the version.
func (s *Store) Bump(id primitive.ObjectID, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.owners[id] != nil {
		s.released.Wait()
	}
	r := s.committed[id]
	r.Quantity += delta
	r.Version++
	s.committed[id] = r
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx inventory.Tx) error) (err error) {
	s.mu.Lock()
	s.stats.Transactions++
	s.mu.Unlock()

	t := &tx{s: s, pending: make(map[primitive.ObjectID]inventory.StockRecord)}
	defer func() {
		if r := recover(); r != nil {
			t.finish(false)
			panic(r)
		}
		t.finish(err == nil)
	}()

	if err = fn(ctx, t); err != nil {
		return err
	}
	return ctx.Err()
}

type tx struct {
	s       *Store
	pending map[primitive.ObjectID]inventory.StockRecord
}

func (t *tx) view(id primitive.ObjectID) (inventory.StockRecord, bool) {
	if r, ok := t.pending[id]; ok {
		return r, true
	}
	r, ok := t.s.committed[id]
	return r, ok
}

func (t *tx) FindStock(ctx context.Context, ids []primitive.ObjectID) ([]inventory.StockRecord, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.stats.BatchReads++
	out := make([]inventory.StockRecord, 0, len(ids))
	for _, id := range ids {
		if r, ok := t.view(id); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *tx) FindStockByID(ctx context.Context, id primitive.ObjectID) (inventory.StockRecord, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.stats.SingleReads++
	r, ok := t.view(id)
	return r, ok, nil
}

// CompareAndSwap waits while another transaction holds the row, like an
// UPDATE blocked on a row lock, then checks the version it can see.
func (t *tx) CompareAndSwap(ctx context.Context, id primitive.ObjectID, expectedVersion int64, debit int) (bool, error) {
	if hook := t.s.BeforeCAS; hook != nil {
		hook(id)
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.stats.CASAttempts++
	for owner := t.s.owners[id]; owner != nil && owner != t; owner = t.s.owners[id] {
		t.s.released.Wait()
	}

	r, ok := t.view(id)
	if !ok || r.Version != expectedVersion {
		return false, nil
	}
	r.Quantity -= debit
	r.Version++
	t.pending[id] = r
	t.s.owners[id] = t
	return true, nil
}

func (t *tx) finish(commit bool) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, r := range t.pending {
		if commit {
			t.s.committed[id] = r
		}
		delete(t.s.owners, id)
	}
	if commit {
		t.s.stats.Commits++
	}
	t.s.released.Broadcast()
}
