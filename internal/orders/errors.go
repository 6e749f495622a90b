package orders

import "github.com/pkg/errors"

var (
	ErrOrderExists       = errors.New("order already exists")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidOrderQuery = errors.New("invalid order query")
)

// PlacementError is the closed set of expected placement failures:
// *EmptyCartError, *ProductNotFoundError and *NotEnoughStockError.
type PlacementError interface {
	error
	placementError()
}

type EmptyCartError struct{}

func (*EmptyCartError) Error() string { return "shopping cart is empty" }
func (*EmptyCartError) placementError() {}

type ProductNotFoundError struct {
	ProductID string `json:"productId"`
}

func (e *ProductNotFoundError) Error() string { return "product not found: " + e.ProductID }
func (*ProductNotFoundError) placementError() {}

type NotEnoughStockError struct {
	ProductID string `json:"productId"`
}

func (e *NotEnoughStockError) Error() string { return "not enough stock for product: " + e.ProductID }
func (*NotEnoughStockError) placementError() {}

// AsPlacementError reports whether err carries a placement failure.
func AsPlacementError(err error) (PlacementError, bool) {
	var pe PlacementError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
