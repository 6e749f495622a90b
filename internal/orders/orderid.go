package orders

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/pkg/errors"
)

const (
	OrderIDPrefix = "ORDER#"

	suffixMin = 111111
	suffixMax = 999998
)

var suffixSpan = big.NewInt(suffixMax - suffixMin + 1)

// NewOrderID returns ORDER#YYYYMMDDNNNNNN for t in UTC. The id sorts by date
// and supports prefix range scans; the six digit suffix is random and not
// guaranteed unique within a day.
func NewOrderID(t time.Time) (string, error) {
	return newOrderID(rand.Reader, t)
}

func newOrderID(r io.Reader, t time.Time) (string, error) {
	n, err := rand.Int(r, suffixSpan)
	if err != nil {
		return "", errors.Wrap(err, "draw order id suffix")
	}
	return datePrefix(t) + fmt.Sprintf("%06d", n.Int64()+suffixMin), nil
}

func datePrefix(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%04d%02d%02d", OrderIDPrefix, t.Year(), int(t.Month()), t.Day())
}

// EncodeQuery turns q into the order id prefix to scan: ORDER#, ORDER#YYYY,
// ORDER#YYYYMM or ORDER#YYYYMMDD.
func EncodeQuery(q OrderQuery) (string, error) {
	switch {
	case q.Day != nil && q.Month == nil:
		return "", errors.Wrap(ErrInvalidOrderQuery, "day requires month")
	case q.Month != nil && q.Year == nil:
		return "", errors.Wrap(ErrInvalidOrderQuery, "month requires year")
	case q.Year != nil && *q.Year < 2020:
		return "", errors.Wrapf(ErrInvalidOrderQuery, "year %d before 2020", *q.Year)
	case q.Month != nil && (*q.Month < 1 || *q.Month > 12):
		return "", errors.Wrapf(ErrInvalidOrderQuery, "month %d out of range", *q.Month)
	case q.Day != nil && (*q.Day < 1 || *q.Day > 31):
		return "", errors.Wrapf(ErrInvalidOrderQuery, "day %d out of range", *q.Day)
	}

	prefix := OrderIDPrefix
	if q.Year == nil {
		return prefix, nil
	}
	prefix += fmt.Sprintf("%04d", *q.Year)
	if q.Month == nil {
		return prefix, nil
	}
	prefix += fmt.Sprintf("%02d", *q.Month)
	if q.Day == nil {
		return prefix, nil
	}
	return prefix + fmt.Sprintf("%02d", *q.Day), nil
}
