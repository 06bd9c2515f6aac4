package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"blankpos/backend/internal/cart"
	"blankpos/backend/internal/domain"
	"blankpos/backend/internal/events"
	"blankpos/backend/internal/locallog"
	"blankpos/backend/internal/store"
	"blankpos/backend/internal/xid"
)

var (
	ErrEmptyCart              = errors.New("cart is empty")
	ErrPersistenceUnavailable = errors.New("sale could not be stored")
)

const (
	DefaultPaymentMethod = "card"
	localOnlyNotice      = "sale stored locally; remote store unavailable"
	guestNotice          = "sale stored locally; sign in to sync sales"
)

type CommitterDeps struct {
	Remote    store.SalesStore
	Local     *locallog.Log
	Publisher events.Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Committer turns a priced cart into exactly one persisted Sale.
type Committer struct {
	remote    store.SalesStore
	local     *locallog.Log
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewCommitter(deps CommitterDeps) *Committer {
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Committer{
		remote:    deps.Remote,
		local:     deps.Local,
		publisher: deps.Publisher,
		logger:    deps.Logger.Named("sales.commit"),
		now:       deps.Now,
	}
}

// Commit writes the cart as a sale. The remote store is tried first for
// signed-in users; the full snapshot always goes to the local log as well.
// The cart is cleared only when the returned error is nil.
//
// Once started, a commit runs to completion even if ctx is cancelled.
func (c *Committer) Commit(ctx context.Context, engine *cart.Engine, userID string, paymentMethod string) (domain.CommitResult, error) {
	snap := engine.Snapshot()
	if !snap.TotalAmount.IsPositive() {
		return failed(ErrEmptyCart), ErrEmptyCart
	}

	owner := strings.TrimSpace(userID)
	if owner == "" {
		owner = domain.GuestUserID
	}
	method := strings.TrimSpace(paymentMethod)
	if method == "" {
		method = DefaultPaymentMethod
	}

	ctx = context.WithoutCancel(ctx)
	logger := c.logger.With(zap.String("user_id", owner))

	sale := domain.Sale{
		UserID:        owner,
		TotalAmount:   snap.TotalAmount,
		PaymentMethod: method,
		LineItems:     snap.Items,
		CustomAmount:  snap.CustomAmount,
	}
	if sale.LineItems == nil {
		sale.LineItems = []domain.LineItem{}
	}

	source := domain.SourceLocal
	if owner != domain.GuestUserID && c.remote != nil {
		row, err := c.remote.InsertSale(ctx, store.NewSale{
			UserID:        owner,
			Total:         snap.TotalAmount,
			PaymentMethod: method,
		})
		if err != nil {
			logger.Warn("remote sale insert failed, using local log", zap.Error(err))
		} else {
			sale.ID = row.ID
			sale.TotalAmount = row.Total
			sale.CreatedAt = row.CreatedAt
			source = domain.SourceRemote
		}
	}
	if sale.ID == "" {
		at := c.now()
		sale.ID = xid.NewAt(xid.LocalPrefix, at)
		sale.CreatedAt = at.UTC()
	}

	if c.local == nil {
		if source == domain.SourceLocal {
			err := fmt.Errorf("%w: no local log configured", ErrPersistenceUnavailable)
			return failed(err), err
		}
	} else if err := c.local.Append(ctx, ToRecord(sale)); err != nil {
		if source == domain.SourceLocal {
			logger.Error("local log write failed, sale not stored", zap.Error(err))
			wrapped := fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
			return failed(wrapped), wrapped
		}
		logger.Warn("local snapshot write failed after remote insert", zap.String("sale_id", sale.ID), zap.Error(err))
	}

	engine.Clear()

	if err := c.publisher.Publish(ctx, events.Event{
		Type:       events.TypeSaleCommitted,
		UserID:     owner,
		SaleID:     sale.ID,
		Source:     source,
		Total:      sale.TotalAmount.String(),
		OccurredAt: sale.CreatedAt,
	}); err != nil {
		logger.Warn("failed to publish sale event", zap.String("sale_id", sale.ID), zap.Error(err))
	}

	result := domain.CommitResult{
		OK:     true,
		ID:     sale.ID,
		Source: source,
		Sale:   &sale,
	}
	if source == domain.SourceLocal {
		result.Notice = localOnlyNotice
		if owner == domain.GuestUserID {
			result.Notice = guestNotice
		}
	}
	logger.Info("sale committed",
		zap.String("sale_id", sale.ID),
		zap.String("source", string(source)),
		zap.String("total", sale.TotalAmount.String()),
	)
	return result, nil
}

func failed(err error) domain.CommitResult {
	return domain.CommitResult{OK: false, Reason: err.Error()}
}
