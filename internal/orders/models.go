package orders

// CartItem is one line of a user's cart as handed to placement.
type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderItem is a reserved line. UnitPrice is captured at reservation time
// and never recomputed.
type OrderItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"productName"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"price"`
}

type OrderDetails struct {
	OrderID    string      `json:"orderId"`
	Status     Status      `json:"status"`
	PlacedAt   int64       `json:"placedAt"` // epoch seconds
	TotalPrice int64       `json:"totalPrice"`
	Items      []OrderItem `json:"items"`
}

type OrderSummary struct {
	OrderID    string `json:"orderId"`
	Status     Status `json:"status"`
	PlacedAt   int64  `json:"placedAt"`
	TotalPrice int64  `json:"totalPrice"`
}

// OrderQuery narrows a user's order listing by date. Day requires Month and
// Month requires Year; EncodeQuery enforces it.
type OrderQuery struct {
	LastID string
	Year   *int
	Month  *int
	Day    *int
}

func TotalPrice(items []OrderItem) int64 {
	var total int64
	for _, it := range items {
		total += it.UnitPrice * int64(it.Quantity)
	}
	return total
}
