package inventory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/ariefcatur/go-order-placement/internal/inventory"
	"github.com/ariefcatur/go-order-placement/internal/inventory/inventorytest"
	"github.com/ariefcatur/go-order-placement/internal/orders"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func oid(t *testing.T, hex string) primitive.ObjectID {
	t.Helper()
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

const (
	productA = "65a1b2c3d4e5f60718293a4b"
	productB = "65a1b2c3d4e5f60718293a4c"
	productC = "65a1b2c3d4e5f60718293a4d"
)

func collect(dst *[]orders.OrderItem) func(context.Context, []orders.OrderItem) error {
	return func(_ context.Context, reserved []orders.OrderItem) error {
		*dst = reserved
		return nil
	}
}

func TestReserveDebitsStockAndBumpsVersion(t *testing.T) {
	store := inventorytest.New(inventory.StockRecord{
		ProductID: oid(t, productA), Name: "Keyboard", UnitPrice: 4500, Quantity: 10, Version: 3,
	})
	engine := &inventory.Engine{Store: store}

	var got []orders.OrderItem
	err := engine.Reserve(context.Background(), []orders.CartItem{{ProductID: productA, Quantity: 5}}, collect(&got))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	rec, _ := store.Get(oid(t, productA))
	if rec.Quantity != 5 || rec.Version != 4 {
		t.Errorf("expected quantity 5 version 4, got quantity %d version %d", rec.Quantity, rec.Version)
	}
	want := orders.OrderItem{ProductID: productA, Name: "Keyboard", Quantity: 5, UnitPrice: 4500}
	if len(got) != 1 || got[0] != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestReserveNotEnoughStock(t *testing.T) {
	store := inventorytest.New(inventory.StockRecord{
		ProductID: oid(t, productA), Name: "Keyboard", UnitPrice: 4500, Quantity: 3, Version: 1,
	})
	engine := &inventory.Engine{Store: store}

	called := false
	err := engine.Reserve(context.Background(), []orders.CartItem{{ProductID: productA, Quantity: 5}},
		func(context.Context, []orders.OrderItem) error { called = true; return nil })

	var nes *orders.NotEnoughStockError
	if !errors.As(err, &nes) || nes.ProductID != productA {
		t.Fatalf("expected NotEnoughStockError for %s, got %v", productA, err)
	}
	if called {
		t.Error("completion must not run when stock is short")
	}
	rec, _ := store.Get(oid(t, productA))
	if rec.Quantity != 3 || rec.Version != 1 {
		t.Errorf("stock must be unchanged, got %+v", rec)
	}
	if store.Stats().CASAttempts != 0 {
		t.Errorf("insufficient stock must not be retried, got %d CAS attempts", store.Stats().CASAttempts)
	}
}

func TestReserveUnknownProduct(t *testing.T) {
	store := inventorytest.New(inventory.StockRecord{
		ProductID: oid(t, productA), Name: "Keyboard", UnitPrice: 4500, Quantity: 10,
	})
	engine := &inventory.Engine{Store: store}

	err := engine.Reserve(context.Background(), []orders.CartItem{
		{ProductID: productA, Quantity: 1},
		{ProductID: "ffffffffffffffffffffffff", Quantity: 1},
	}, collect(new([]orders.OrderItem)))

	var pnf *orders.ProductNotFoundError
	if !errors.As(err, &pnf) || pnf.ProductID != "ffffffffffffffffffffffff" {
		t.Fatalf("expected ProductNotFoundError for the missing id, got %v", err)
	}
	rec, _ := store.Get(oid(t, productA))
	if rec.Quantity != 10 {
		t.Errorf("no stock may be debited, got quantity %d", rec.Quantity)
	}
}

func TestReserveUnknownProductReportedBeforeShortStock(t *testing.T) {
	store := inventorytest.New(inventory.StockRecord{
		ProductID: oid(t, productA), Name: "Keyboard", UnitPrice: 4500, Quantity: 3,
	})
	engine := &inventory.Engine{Store: store}

	err := engine.Reserve(context.Background(), []orders.CartItem{
		{ProductID: productA, Quantity: 5},
		{ProductID: "ffffffffffffffffffffffff", Quantity: 1},
	}, collect(new([]orders.OrderItem)))

	var pnf *orders.ProductNotFoundError
	if !errors.As(err, &pnf) || pnf.ProductID != "ffffffffffffffffffffffff" {
		t.Fatalf("expected ProductNotFoundError for the missing id, got %v", err)
	}
	if s := store.Stats(); s.CASAttempts != 0 {
		t.Errorf("expected no CAS, got %d", s.CASAttempts)
	}
}

func TestReserveMalformedIDFailsBeforeStoreAccess(t *testing.T) {
	store := inventorytest.New()
	engine := &inventory.Engine{Store: store}

	err := engine.Reserve(context.Background(), []orders.CartItem{{ProductID: "not-an-object-id", Quantity: 1}},
		collect(new([]orders.OrderItem)))

	var pnf *orders.ProductNotFoundError
	if !errors.As(err, &pnf) || pnf.ProductID != "not-an-object-id" {
		t.Fatalf("expected ProductNotFoundError, got %v", err)
	}
	if n := store.Stats().Transactions; n != 0 {
		t.Errorf("expected no transaction, got %d", n)
	}
}

func TestReserveGroupsDuplicatesAndKeepsCartOrder(t *testing.T) {
	store := inventorytest.New(
		inventory.StockRecord{ProductID: oid(t, productA), Name: "A", UnitPrice: 100, Quantity: 10},
		inventory.StockRecord{ProductID: oid(t, productB), Name: "B", UnitPrice: 200, Quantity: 10},
		inventory.StockRecord{ProductID: oid(t, productC), Name: "C", UnitPrice: 300, Quantity: 10},
	)
	engine := &inventory.Engine{Store: store}

	var got []orders.OrderItem
	err := engine.Reserve(context.Background(), []orders.CartItem{
		{ProductID: productC, Quantity: 1},
		{ProductID: productA, Quantity: 2},
		{ProductID: productC, Quantity: 3},
		{ProductID: productB, Quantity: 1},
	}, collect(&got))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	wantOrder := []string{productC, productA, productB}
	wantQty := []int{4, 2, 1}
	if len(got) != len(wantOrder) {
		t.Fatalf("expected %d lines, got %d", len(wantOrder), len(got))
	}
	for i := range wantOrder {
		if got[i].ProductID != wantOrder[i] || got[i].Quantity != wantQty[i] {
			t.Errorf("line %d: expected %s x%d, got %s x%d", i, wantOrder[i], wantQty[i], got[i].ProductID, got[i].Quantity)
		}
	}
	rec, _ := store.Get(oid(t, productC))
	if rec.Quantity != 6 || rec.Version != 1 {
		t.Errorf("duplicates should be debited in one swap, got %+v", rec)
	}
	if store.Stats().BatchReads != 1 {
		t.Errorf("expected a single batch read, got %d", store.Stats().BatchReads)
	}
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	engine := &inventory.Engine{Store: inventorytest.New()}

	err := engine.Reserve(context.Background(), []orders.CartItem{{ProductID: productA, Quantity: 0}},
		collect(new([]orders.OrderItem)))
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := orders.AsPlacementError(err); ok {
		t.Errorf("invalid quantity is not a placement failure, got %v", err)
	}
}

func TestReserveCompletionErrorRollsBack(t *testing.T) {
	store := inventorytest.New(inventory.StockRecord{
		ProductID: oid(t, productA), Name: "Keyboard", UnitPrice: 4500, Quantity: 10, Version: 3,
	})
	engine := &inventory.Engine{Store: store}

	boom := errors.New("order insert failed")
	err := engine.Reserve(context.Background(), []orders.CartItem{{ProductID: productA, Quantity: 5}},
		func(context.Context, []orders.OrderItem) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected completion error, got %v", err)
	}
	rec, _ := store.Get(oid(t, productA))
	if rec.Quantity != 10 || rec.Version != 3 {
		t.Errorf("expected rollback, got %+v", rec)
	}
}

func TestReserveCanceledContextRollsBack(t *testing.T) {
	store := inventorytest.New(inventory.StockRecord{
		ProductID: oid(t, productA), Name: "Keyboard", UnitPrice: 4500, Quantity: 10,
	})
	engine := &inventory.Engine{Store: store}

	ctx, cancel := context.WithCancel(context.Background())
	err := engine.Reserve(ctx, []orders.CartItem{{ProductID: productA, Quantity: 5}},
		func(context.Context, []orders.OrderItem) error { cancel(); return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	rec, _ := store.Get(oid(t, productA))
	if rec.Quantity != 10 {
		t.Errorf("expected rollback, got %+v", rec)
	}
}

func TestReserveRetriesAfterVersionConflict(t *testing.T) {
	id := oid(t, productA)
	store := inventorytest.New(inventory.StockRecord{
		ProductID: id, Name: "Keyboard", UnitPrice: 4500, Quantity: 10, Version: 3,
	})
	bumped := false
	store.BeforeCAS = func(got primitive.ObjectID) {
		if !bumped {
			bumped = true
			store.Bump(got, -2) // a competing order commits 2 units
		}
	}
	engine := &inventory.Engine{Store: store}

	var got []orders.OrderItem
	err := engine.Reserve(context.Background(), []orders.CartItem{{ProductID: productA, Quantity: 5}}, collect(&got))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	rec, _ := store.Get(id)
	if rec.Quantity != 3 || rec.Version != 5 {
		t.Errorf("expected quantity 3 version 5, got %+v", rec)
	}
	if s := store.Stats(); s.CASAttempts != 2 || s.SingleReads != 1 {
		t.Errorf("expected 2 CAS attempts and 1 re-read, got %+v", s)
	}
}

func TestReserveConflictThenInsufficientStock(t *testing.T) {
	id := oid(t, productA)
	store := inventorytest.New(inventory.StockRecord{
		ProductID: id, Name: "Keyboard", UnitPrice: 4500, Quantity: 10, Version: 3,
	})
	bumped := false
	store.BeforeCAS = func(got primitive.ObjectID) {
		if !bumped {
			bumped = true
			store.Bump(got, -8)
		}
	}
	engine := &inventory.Engine{Store: store}

	err := engine.Reserve(context.Background(), []orders.CartItem{{ProductID: productA, Quantity: 5}},
		collect(new([]orders.OrderItem)))
	var nes *orders.NotEnoughStockError
	if !errors.As(err, &nes) {
		t.Fatalf("expected NotEnoughStockError, got %v", err)
	}
	if s := store.Stats(); s.CASAttempts != 1 {
		t.Errorf("expected no CAS after the re-read showed short stock, got %d", s.CASAttempts)
	}
}

func TestReserveContentionExhausted(t *testing.T) {
	id := oid(t, productA)
	store := inventorytest.New(inventory.StockRecord{
		ProductID: id, Name: "Keyboard", UnitPrice: 4500, Quantity: 1000, Version: 0,
	})
	store.BeforeCAS = func(got primitive.ObjectID) { store.Bump(got, 0) }
	engine := &inventory.Engine{Store: store}

	err := engine.Reserve(context.Background(), []orders.CartItem{{ProductID: productA, Quantity: 1}},
		collect(new([]orders.OrderItem)))
	if !errors.Is(err, inventory.ErrContentionExhausted) {
		t.Fatalf("expected ErrContentionExhausted, got %v", err)
	}
	if _, ok := orders.AsPlacementError(err); ok {
		t.Error("contention exhaustion must stay outside the placement failures")
	}
	var ce *inventory.ContentionError
	if !errors.As(err, &ce) || ce.Attempts != inventory.DefaultMaxAttempts || ce.ProductID != productA {
		t.Errorf("unexpected contention error %+v", ce)
	}
	if s := store.Stats(); s.CASAttempts != 1+inventory.DefaultMaxAttempts {
		t.Errorf("expected %d CAS attempts, got %d", 1+inventory.DefaultMaxAttempts, s.CASAttempts)
	}
	rec, _ := store.Get(id)
	if rec.Quantity != 1000 {
		t.Errorf("expected no debit, got %+v", rec)
	}
}

func TestReserveGenericResult(t *testing.T) {
	store := inventorytest.New(inventory.StockRecord{
		ProductID: oid(t, productA), Name: "Keyboard", UnitPrice: 4500, Quantity: 10,
	})
	engine := &inventory.Engine{Store: store}

	total, err := inventory.Reserve(context.Background(), engine, []orders.CartItem{{ProductID: productA, Quantity: 2}},
		func(_ context.Context, reserved []orders.OrderItem) (int64, error) {
			return orders.TotalPrice(reserved), nil
		})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if total != 9000 {
		t.Errorf("expected 9000, got %d", total)
	}
}

func TestConcurrentDisjointReservations(t *testing.T) {
	store := inventorytest.New(
		inventory.StockRecord{ProductID: oid(t, productA), Name: "A", UnitPrice: 100, Quantity: 100},
		inventory.StockRecord{ProductID: oid(t, productB), Name: "B", UnitPrice: 200, Quantity: 100},
	)
	engine := &inventory.Engine{Store: store}

	// each round places two orders for disjoint carts at the same time
	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, p := range []string{productA, productB} {
			wg.Add(1)
			go func(i int, p string) {
				defer wg.Done()
				errs[i] = engine.Reserve(context.Background(), []orders.CartItem{{ProductID: p, Quantity: 3}},
					collect(new([]orders.OrderItem)))
			}(i, p)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				t.Fatalf("round %d: expected no error, got %v", round, err)
			}
		}
	}

	for _, p := range []string{productA, productB} {
		rec, _ := store.Get(oid(t, p))
		if rec.Quantity != 40 || rec.Version != 20 {
			t.Errorf("%s: expected quantity 40 version 20, got %+v", p, rec)
		}
	}
}

func TestConcurrentCompetingReservations(t *testing.T) {
	tests := []struct {
		name      string
		stock     int
		demand    int
		wantWins  int
		wantStock int
	}{
		{"stock for one", 10, 6, 1, 4},
		{"stock for both", 10, 5, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := oid(t, productA)
			store := inventorytest.New(inventory.StockRecord{ProductID: id, Name: "A", UnitPrice: 100, Quantity: tt.stock})
			engine := &inventory.Engine{Store: store}

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = engine.Reserve(context.Background(), []orders.CartItem{{ProductID: productA, Quantity: tt.demand}},
						collect(new([]orders.OrderItem)))
				}(i)
			}
			wg.Wait()

			wins := 0
			for _, err := range errs {
				var nes *orders.NotEnoughStockError
				switch {
				case err == nil:
					wins++
				case errors.As(err, &nes):
				default:
					t.Fatalf("unexpected error %v", err)
				}
			}
			if wins != tt.wantWins {
				t.Errorf("expected %d successful reservations, got %d", tt.wantWins, wins)
			}
			rec, _ := store.Get(id)
			if rec.Quantity != tt.wantStock || rec.Version != int64(wins) {
				t.Errorf("expected quantity %d version %d, got %+v", tt.wantStock, wins, rec)
			}
		})
	}
}

var (
	spansOnce sync.Once
	spans     *tracetest.SpanRecorder
)

// recordSpans installs a recording tracer provider once per test binary.
func recordSpans() *tracetest.SpanRecorder {
	spansOnce.Do(func() {
		spans = tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))
	})
	return spans
}

func lastReserveSpan(t *testing.T, rec *tracetest.SpanRecorder) sdktrace.ReadOnlySpan {
	t.Helper()
	ended := rec.Ended()
	for i := len(ended) - 1; i >= 0; i-- {
		if ended[i].Name() == "inventory.Reserve" {
			return ended[i]
		}
	}
	t.Fatal("no inventory.Reserve span recorded")
	return nil
}

func TestReserveSpanStatus(t *testing.T) {
	rec := recordSpans()
	boom := errors.New("db down")

	tests := []struct {
		name       string
		cart       []orders.CartItem
		completion func(context.Context, []orders.OrderItem) error
		want       codes.Code
	}{
		{"not enough stock", []orders.CartItem{{ProductID: productA, Quantity: 50}},
			collect(new([]orders.OrderItem)), codes.Unset},
		{"unknown product", []orders.CartItem{{ProductID: "ffffffffffffffffffffffff", Quantity: 1}},
			collect(new([]orders.OrderItem)), codes.Unset},
		{"completion failure", []orders.CartItem{{ProductID: productA, Quantity: 1}},
			func(context.Context, []orders.OrderItem) error { return boom }, codes.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := inventorytest.New(inventory.StockRecord{
				ProductID: oid(t, productA), Name: "Keyboard", UnitPrice: 4500, Quantity: 10,
			})
			engine := &inventory.Engine{Store: store}

			if err := engine.Reserve(context.Background(), tt.cart, tt.completion); err == nil {
				t.Fatal("expected an error")
			}
			if got := lastReserveSpan(t, rec).Status().Code; got != tt.want {
				t.Errorf("expected span status %v, got %v", tt.want, got)
			}
		})
	}
}
