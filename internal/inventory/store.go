package inventory

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StockRecord is the per-product stock document. Quantity and Version change
// only through Tx.CompareAndSwap.
type StockRecord struct {
	ProductID primitive.ObjectID
	Name      string
	UnitPrice int64
	Quantity  int
	Version   int64
}

// Store runs fn inside one atomic transaction: commit when fn returns nil,
// roll back on error or cancellation. The ctx handed to fn carries the
// transaction for repositories that take part in it.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	// FindStock returns the records that exist among ids, in no particular order.
	FindStock(ctx context.Context, ids []primitive.ObjectID) ([]StockRecord, error)
	FindStockByID(ctx context.Context, id primitive.ObjectID) (StockRecord, bool, error)
	// CompareAndSwap debits quantity and increments the version by one, only
	// if the stored version still equals expectedVersion. It reports whether
	// the record was modified.
	CompareAndSwap(ctx context.Context, id primitive.ObjectID, expectedVersion int64, debit int) (bool, error)
}
