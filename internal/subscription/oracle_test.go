package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagehq/garage/internal/models"
)

type stubPayments struct {
	active map[int64]bool
	err    error
	calls  int
	lastAt time.Time
}

func (s *stubPayments) FindActive(_ context.Context, userID int64, now time.Time) (*models.Payment, error) {
	s.calls++
	s.lastAt = now
	if s.err != nil {
		return nil, s.err
	}
	if s.active[userID] {
		return &models.Payment{UserID: userID, Status: models.PaymentPaid}, nil
	}
	return nil, nil
}

func TestOracle_IsSubscribed(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	payments := &stubPayments{active: map[int64]bool{1: true}}
	oracle := NewOracle(payments).WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok, err := oracle.IsSubscribed(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, now, payments.lastAt)

	ok, err = oracle.IsSubscribed(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	calls := payments.calls
	ok, err = oracle.IsSubscribed(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, calls, payments.calls, "anonymous callers must not hit the store")
}

func TestOracle_StoreError(t *testing.T) {
	cause := errors.New("connection refused")
	oracle := NewOracle(&stubPayments{err: cause})

	_, err := oracle.IsSubscribed(context.Background(), 1)
	assert.ErrorIs(t, err, cause)
}
