package inventory

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/ariefcatur/go-order-placement/internal/metrics"
	"github.com/ariefcatur/go-order-placement/internal/orders"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultMaxAttempts = 5

// ErrContentionExhausted marks a reservation that lost every compare-and-swap
// race it was allowed. It is not a placement failure and must be alerted on.
var ErrContentionExhausted = errors.New("stock reservation contention exhausted")

type ContentionError struct {
	ProductID string
	Required  int
	Attempts  int
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("exceeded max retries(%d) to reserve quantity(%d) for product %s", e.Attempts, e.Required, e.ProductID)
}

func (e *ContentionError) Unwrap() error { return ErrContentionExhausted }

var tracer = otel.Tracer("github.com/ariefcatur/go-order-placement/internal/inventory")

// Engine reserves stock for whole carts with optimistic concurrency control.
type Engine struct {
	Store Store
	// MaxAttempts bounds the re-read and compare-and-swap retries per product
	// after the first attempt on batch-read data fails. Zero means DefaultMaxAttempts.
	MaxAttempts int
}

func (e *Engine) maxAttempts() int {
	if e.MaxAttempts > 0 {
		return e.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Reserve debits stock for every cart line and hands the priced lines, in
// cart order, to completion. Reservation and completion share one
// transaction: a completion error rolls back every debit.
//
// Expected failures are *orders.ProductNotFoundError and
// *orders.NotEnoughStockError. Running out of retries returns a
// *ContentionError.
func (e *Engine) Reserve(ctx context.Context, items []orders.CartItem, completion func(ctx context.Context, reserved []orders.OrderItem) error) error {
	required, err := groupCart(items)
	if err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "inventory.Reserve")
	defer span.End()
	span.SetAttributes(attribute.Int("inventory.products", len(required)))

	err = e.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		reserved, err := e.reserveAll(ctx, tx, required)
		if err != nil {
			return err
		}
		return completion(ctx, reserved)
	})
	if _, expected := orders.AsPlacementError(err); err != nil && !expected {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Reserve is Engine.Reserve for completions that produce a value.
func Reserve[T any](ctx context.Context, e *Engine, items []orders.CartItem, completion func(ctx context.Context, reserved []orders.OrderItem) (T, error)) (T, error) {
	var result T
	err := e.Reserve(ctx, items, func(ctx context.Context, reserved []orders.OrderItem) error {
		var err error
		result, err = completion(ctx, reserved)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

type requirement struct {
	id       primitive.ObjectID
	raw      string
	quantity int
}

// groupCart parses product ids and sums duplicates, keeping first-appearance order.
func groupCart(items []orders.CartItem) ([]requirement, error) {
	out := make([]requirement, 0, len(items))
	index := make(map[primitive.ObjectID]int, len(items))
	for _, it := range items {
		id, err := primitive.ObjectIDFromHex(it.ProductID)
		if err != nil {
			return nil, &orders.ProductNotFoundError{ProductID: it.ProductID}
		}
		if it.Quantity <= 0 {
			return nil, errors.Errorf("invalid quantity %d for product %s", it.Quantity, it.ProductID)
		}
		if i, ok := index[id]; ok {
			out[i].quantity += it.Quantity
			continue
		}
		index[id] = len(out)
		out = append(out, requirement{id: id, raw: it.ProductID, quantity: it.Quantity})
	}
	return out, nil
}

func (e *Engine) reserveAll(ctx context.Context, tx Tx, required []requirement) ([]orders.OrderItem, error) {
	ids := make([]primitive.ObjectID, len(required))
	for i, r := range required {
		ids[i] = r.id
	}
	records, err := tx.FindStock(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "find stock")
	}
	byID := make(map[primitive.ObjectID]StockRecord, len(records))
	for _, rec := range records {
		byID[rec.ProductID] = rec
	}

	// every missing product is reported before any stock comparison
	for _, r := range required {
		if _, ok := byID[r.id]; !ok {
			return nil, &orders.ProductNotFoundError{ProductID: r.raw}
		}
	}
	for _, r := range required {
		if byID[r.id].Quantity < r.quantity {
			return nil, &orders.NotEnoughStockError{ProductID: r.raw}
		}
	}

	// Debit in id order so concurrent transactions take row locks in the same order.
	order := make([]int, len(required))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return bytes.Compare(required[order[a]].id[:], required[order[b]].id[:]) < 0
	})

	reserved := make([]orders.OrderItem, len(required))
	for _, i := range order {
		item, err := e.reserveProduct(ctx, tx, byID[required[i].id], required[i])
		if err != nil {
			return nil, err
		}
		reserved[i] = item
	}
	return reserved, nil
}

// reserveProduct tries the batch-read record first, then re-reads and retries
// after each version conflict.
func (e *Engine) reserveProduct(ctx context.Context, tx Tx, rec StockRecord, r requirement) (orders.OrderItem, error) {
	for attempt := 0; attempt <= e.maxAttempts(); attempt++ {
		if attempt > 0 {
			metrics.VersionConflicts.Inc()
			fresh, ok, err := tx.FindStockByID(ctx, r.id)
			if err != nil {
				return orders.OrderItem{}, errors.Wrap(err, "re-read stock")
			}
			if !ok {
				return orders.OrderItem{}, &orders.ProductNotFoundError{ProductID: r.raw}
			}
			rec = fresh
		}

		res, err := tryReserve(ctx, tx, rec, r.quantity)
		if err != nil {
			return orders.OrderItem{}, err
		}
		switch res {
		case outcomeReserved:
			return orders.OrderItem{
				ProductID: rec.ProductID.Hex(),
				Name:      rec.Name,
				Quantity:  r.quantity,
				UnitPrice: rec.UnitPrice,
			}, nil
		case outcomeInsufficient:
			return orders.OrderItem{}, &orders.NotEnoughStockError{ProductID: r.raw}
		}
	}

	metrics.ContentionExhausted.Inc()
	return orders.OrderItem{}, &ContentionError{ProductID: r.raw, Required: r.quantity, Attempts: e.maxAttempts()}
}

type outcome int

const (
	outcomeReserved outcome = iota
	outcomeInsufficient
	outcomeConflict
)

// tryReserve makes one compare-and-swap attempt against rec. Insufficient
// stock is final: fresher data cannot lower the requirement.
func tryReserve(ctx context.Context, tx Tx, rec StockRecord, required int) (outcome, error) {
	if rec.Quantity < required {
		return outcomeInsufficient, nil
	}
	ok, err := tx.CompareAndSwap(ctx, rec.ProductID, rec.Version, required)
	if err != nil {
		return 0, errors.Wrap(err, "compare and swap stock")
	}
	if !ok {
		return outcomeConflict, nil
	}
	return outcomeReserved, nil
}
