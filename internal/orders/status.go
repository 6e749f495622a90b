package orders

import "github.com/pkg/errors"

type Status string

const (
	StatusPendingPayment    Status = "PENDING_PAYMENT"
	StatusPaymentInProgress Status = "PAYMENT_IN_PROGRESS"
	StatusShipped           Status = "SHIPPED"
	StatusComplete          Status = "COMPLETE"
	StatusCanceled          Status = "CANCELED"
)

var knownStatuses = map[Status]bool{
	StatusPendingPayment:    true,
	StatusPaymentInProgress: true,
	StatusShipped:           true,
	StatusComplete:          true,
	StatusCanceled:          true,
}

func ParseStatus(s string) (Status, error) {
	if !knownStatuses[Status(s)] {
		return "", errors.Errorf("unknown order status %q", s)
	}
	return Status(s), nil
}
