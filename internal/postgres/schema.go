package postgres

import (
	"context"

	"github.com/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS stock (
	id         CHAR(24) PRIMARY KEY,
	name       TEXT    NOT NULL,
	unit_price BIGINT  NOT NULL CHECK (unit_price >= 0),
	quantity   INTEGER NOT NULL CHECK (quantity >= 0),
	version    BIGINT  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS orders (
	user_id     TEXT   NOT NULL,
	order_id    TEXT   NOT NULL,
	status      TEXT   NOT NULL,
	placed_at   BIGINT NOT NULL,
	total_price BIGINT NOT NULL,
	PRIMARY KEY (user_id, order_id)
);

CREATE TABLE IF NOT EXISTS order_items (
	user_id    TEXT     NOT NULL,
	order_id   TEXT     NOT NULL,
	position   INTEGER  NOT NULL,
	product_id CHAR(24) NOT NULL,
	name       TEXT     NOT NULL,
	quantity   INTEGER  NOT NULL,
	unit_price BIGINT   NOT NULL,
	PRIMARY KEY (user_id, order_id, position),
	FOREIGN KEY (user_id, order_id) REFERENCES orders (user_id, order_id)
);
`

// Migrate creates the tables used by the inventory store and the order repository.
func Migrate(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, schema)
	return errors.Wrap(err, "migrate schema")
}
