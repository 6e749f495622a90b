package inventory

import (
	"context"

	"github.com/ariefcatur/go-order-placement/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PostgresStore keeps stock records in the stock table.
type PostgresStore struct {
	DB postgres.Beginner
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return postgres.InTx(ctx, s.DB, func(ctx context.Context) error {
		return fn(ctx, &pgTx{db: postgres.Conn(ctx, s.DB)})
	})
}

type pgTx struct {
	db postgres.DBTX
}

func (t *pgTx) FindStock(ctx context.Context, ids []primitive.ObjectID) ([]StockRecord, error) {
	hexIDs := make([]string, len(ids))
	for i, id := range ids {
		hexIDs[i] = id.Hex()
	}
	rows, err := t.db.Query(ctx, `
		SELECT id, name, unit_price, quantity, version
		FROM stock WHERE id = ANY($1)`, hexIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]StockRecord, 0, len(ids))
	for rows.Next() {
		rec, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *pgTx) FindStockByID(ctx context.Context, id primitive.ObjectID) (StockRecord, bool, error) {
	rec, err := scanStock(t.db.QueryRow(ctx, `
		SELECT id, name, unit_price, quantity, version
		FROM stock WHERE id = $1`, id.Hex()))
	if errors.Is(err, pgx.ErrNoRows) {
		return StockRecord{}, false, nil
	}
	if err != nil {
		return StockRecord{}, false, err
	}
	return rec, true, nil
}

func (t *pgTx) CompareAndSwap(ctx context.Context, id primitive.ObjectID, expectedVersion int64, debit int) (bool, error) {
	ct, err := t.db.Exec(ctx, `
		UPDATE stock SET quantity = quantity - $3, version = version + 1
		WHERE id = $1 AND version = $2`, id.Hex(), expectedVersion, debit)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func scanStock(row pgx.Row) (StockRecord, error) {
	var (
		rec StockRecord
		id  string
	)
	if err := row.Scan(&id, &rec.Name, &rec.UnitPrice, &rec.Quantity, &rec.Version); err != nil {
		return StockRecord{}, err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return StockRecord{}, errors.Wrapf(err, "stock id %q", id)
	}
	rec.ProductID = oid
	return rec, nil
}
