package resilient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blankpos/backend/internal/store"
	"blankpos/backend/internal/store/memory"
)

type flakyStore struct {
	*memory.Store
	calls atomic.Int32
	err   error
	block bool
}

func (f *flakyStore) InsertSale(ctx context.Context, sale store.NewSale) (store.SaleRow, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return store.SaleRow{}, ctx.Err()
	}
	if f.err != nil {
		return store.SaleRow{}, f.err
	}
	return f.Store.InsertSale(ctx, sale)
}

func (f *flakyStore) GetSale(ctx context.Context, id string) (store.SaleRow, error) {
	f.calls.Add(1)
	return f.Store.GetSale(ctx, id)
}

func newSale() store.NewSale {
	return store.NewSale{UserID: "u1", Total: decimal.NewFromInt(5), PaymentMethod: "card"}
}

func TestPassesThroughOnSuccess(t *testing.T) {
	inner := &flakyStore{Store: memory.New()}
	s := New(inner, Options{})

	row, err := s.InsertSale(context.Background(), newSale())
	require.NoError(t, err)
	assert.NotEmpty(t, row.ID)

	rows, err := s.ListSalesByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyStore{Store: memory.New(), err: errors.New("connection refused")}
	s := New(inner, Options{MaxFailures: 3, OpenFor: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := s.InsertSale(context.Background(), newSale())
		require.Error(t, err)
		assert.NotErrorIs(t, err, store.ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, s.State())

	_, err := s.InsertSale(context.Background(), newSale())
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, int32(3), inner.calls.Load(), "open breaker must not reach the remote")
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	inner := &flakyStore{Store: memory.New()}
	s := New(inner, Options{MaxFailures: 1})

	for i := 0; i < 3; i++ {
		_, err := s.GetSale(context.Background(), "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, s.State())
}

func TestTimeoutBoundsSlowRemote(t *testing.T) {
	inner := &flakyStore{Store: memory.New(), block: true}
	s := New(inner, Options{Timeout: 30 * time.Millisecond})

	started := time.Now()
	_, err := s.InsertSale(context.Background(), newSale())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)
}
