// Package subscription answers whether a user currently holds a paid entitlement.
package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/garagehq/garage/internal/models"
)

// PaymentFinder finds a paid payment covering now
type PaymentFinder interface {
	FindActive(ctx context.Context, userID int64, now time.Time) (*models.Payment, error)
}

// Oracle resolves subscription status from live payment data. Results are not cached.
type Oracle struct {
	payments PaymentFinder
	now      func() time.Time
}

// NewOracle creates an oracle
func NewOracle(payments PaymentFinder) *Oracle {
	return &Oracle{payments: payments, now: time.Now}
}

// WithClock returns a copy of o using now as its time source
func (o *Oracle) WithClock(now func() time.Time) *Oracle {
	c := *o
	c.now = now
	return &c
}

// IsSubscribed reports whether userID has a paid payment whose end date is not
// before now. Anonymous callers (userID <= 0) are never subscribed.
func (o *Oracle) IsSubscribed(ctx context.Context, userID int64) (bool, error) {
	if userID <= 0 {
		return false, nil
	}
	payment, err := o.payments.FindActive(ctx, userID, o.now().UTC())
	if err != nil {
		return false, fmt.Errorf("subscription lookup for user %d: %w", userID, err)
	}
	return payment != nil, nil
}
