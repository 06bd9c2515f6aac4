package resilient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"blankpos/backend/internal/domain"
	"blankpos/backend/internal/store"
)

type Options struct {
	Name        string
	Timeout     time.Duration
	MaxFailures uint32
	OpenFor     time.Duration
	Logger      *zap.Logger
}

// Store bounds every remote call with a timeout and stops calling a remote
// that keeps failing until the breaker half-opens again.
type Store struct {
	inner   store.SalesStore
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[any]
}

func New(inner store.SalesStore, opts Options) *Store {
	if opts.Name == "" {
		opts.Name = "remote-sales"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxFailures := opts.MaxFailures

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: isHealthy,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("remote store breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Store{inner: inner, timeout: opts.Timeout, breaker: breaker}
}

func (s *Store) State() gobreaker.State {
	return s.breaker.State()
}

func (s *Store) InsertSale(ctx context.Context, sale store.NewSale) (store.SaleRow, error) {
	return call(ctx, s, func(ctx context.Context) (store.SaleRow, error) {
		return s.inner.InsertSale(ctx, sale)
	})
}

func (s *Store) ListSalesByUser(ctx context.Context, userID string) ([]store.SaleRow, error) {
	return call(ctx, s, func(ctx context.Context) ([]store.SaleRow, error) {
		return s.inner.ListSalesByUser(ctx, userID)
	})
}

func (s *Store) GetSale(ctx context.Context, id string) (store.SaleRow, error) {
	return call(ctx, s, func(ctx context.Context) (store.SaleRow, error) {
		return s.inner.GetSale(ctx, id)
	})
}

func (s *Store) DeleteSalesByUser(ctx context.Context, userID string) (int64, error) {
	return call(ctx, s, func(ctx context.Context) (int64, error) {
		return s.inner.DeleteSalesByUser(ctx, userID)
	})
}

func (s *Store) SalesTotalsByUser(ctx context.Context) ([]domain.UserSalesTotal, error) {
	return call(ctx, s, func(ctx context.Context) ([]domain.UserSalesTotal, error) {
		return s.inner.SalesTotalsByUser(ctx)
	})
}

func call[T any](ctx context.Context, s *Store, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	out, err := s.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		v, err := fn(callCtx)
		return v, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return zero, err
	}
	result, ok := out.(T)
	if !ok {
		return zero, nil
	}
	return result, nil
}

// Caller mistakes say nothing about remote health.
func isHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrInvalidRecord) ||
		errors.Is(err, store.ErrConflict)
}
