package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"blankpos/backend/internal/cart"
	"blankpos/backend/internal/domain"
	"blankpos/backend/internal/events"
	"blankpos/backend/internal/locallog"
	"blankpos/backend/internal/money"
	"blankpos/backend/internal/receipt"
	"blankpos/backend/internal/sales"
	"blankpos/backend/internal/store"
)

var (
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid request")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ownerFromContext is the id sales are recorded under: the signed-in user,
// or the guest sentinel.
func ownerFromContext(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.IsGuest() {
		return domain.GuestUserID
	}
	return actor.UserID
}

type Deps struct {
	Carts          *cart.Registry
	Committer      *sales.Committer
	Aggregator     *sales.Aggregator
	Remote         store.SalesStore
	Users          store.UserStore
	Local          *locallog.Log
	Publisher      events.Publisher
	Logger         *zap.Logger
	Now            func() time.Time
	CurrencySymbol string
}

type Service struct {
	carts      *cart.Registry
	committer  *sales.Committer
	aggregator *sales.Aggregator
	remote     store.SalesStore
	users      store.UserStore
	local      *locallog.Log
	publisher  events.Publisher
	logger     *zap.Logger
	now        func() time.Time
	symbol     string
}

func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}
	if deps.Carts == nil {
		deps.Carts = cart.NewRegistry(deps.Now)
	}
	if deps.CurrencySymbol == "" {
		deps.CurrencySymbol = money.DefaultSymbol
	}
	if deps.Committer == nil {
		deps.Committer = sales.NewCommitter(sales.CommitterDeps{
			Remote:    deps.Remote,
			Local:     deps.Local,
			Publisher: deps.Publisher,
			Logger:    deps.Logger,
			Now:       deps.Now,
		})
	}
	if deps.Aggregator == nil {
		deps.Aggregator = sales.NewAggregator(sales.AggregatorDeps{
			Remote: deps.Remote,
			Local:  deps.Local,
			Logger: deps.Logger,
			Now:    deps.Now,
		})
	}

	return &Service{
		carts:      deps.Carts,
		committer:  deps.Committer,
		aggregator: deps.Aggregator,
		remote:     deps.Remote,
		users:      deps.Users,
		local:      deps.Local,
		publisher:  deps.Publisher,
		logger:     deps.Logger.Named("service"),
		now:        deps.Now,
		symbol:     deps.CurrencySymbol,
	}
}

func (s *Service) CurrencySymbol() string {
	return s.symbol
}

func (s *Service) CreateCart(ctx context.Context) domain.CartView {
	return s.carts.Create(ownerFromContext(ctx)).View()
}

func (s *Service) GetCart(ctx context.Context, cartID string) (domain.CartView, error) {
	session, err := s.carts.Get(cartID, ownerFromContext(ctx))
	if err != nil {
		return domain.CartView{}, err
	}
	return session.View(), nil
}

// mutate runs fn against an idle cart. Carts with a checkout in progress
// are read-only until it finishes.
func (s *Service) mutate(ctx context.Context, cartID string, fn func(*cart.Engine) error) (domain.CartView, error) {
	session, err := s.carts.Get(cartID, ownerFromContext(ctx))
	if err != nil {
		return domain.CartView{}, err
	}
	if err := session.Mutate(fn); err != nil {
		return domain.CartView{}, err
	}
	return session.View(), nil
}

func (s *Service) AddItem(ctx context.Context, cartID string, req domain.AddItemRequest) (domain.CartView, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.CartView{}, fmt.Errorf("%w: item name is required", ErrInvalidRequest)
	}
	price, ok := money.ParseAmount(req.UnitPrice)
	if !ok || !price.IsPositive() {
		return domain.CartView{}, fmt.Errorf("%w: price must be a positive number", ErrInvalidRequest)
	}
	return s.mutate(ctx, cartID, func(e *cart.Engine) error {
		e.AddItem(name, price)
		return nil
	})
}

func (s *Service) UpdateQuantity(ctx context.Context, cartID string, itemID string, quantity int) (domain.CartView, error) {
	return s.mutate(ctx, cartID, func(e *cart.Engine) error {
		if !e.UpdateQuantity(itemID, quantity) {
			return fmt.Errorf("item %q: %w", itemID, store.ErrNotFound)
		}
		return nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, cartID string, itemID string) (domain.CartView, error) {
	return s.mutate(ctx, cartID, func(e *cart.Engine) error {
		e.RemoveItem(itemID)
		return nil
	})
}

func (s *Service) SetCustomAmount(ctx context.Context, cartID string, raw string) (domain.CartView, error) {
	return s.mutate(ctx, cartID, func(e *cart.Engine) error {
		e.SetCustomAmount(raw)
		return nil
	})
}

func (s *Service) ClearCart(ctx context.Context, cartID string) (domain.CartView, error) {
	return s.mutate(ctx, cartID, func(e *cart.Engine) error {
		e.Clear()
		return nil
	})
}

// Checkout commits the cart as a sale. Only one checkout per cart may be in
// progress; a second attempt fails with cart.ErrCommitInFlight.
func (s *Service) Checkout(ctx context.Context, cartID string, req domain.CheckoutRequest) (domain.CommitResult, error) {
	session, err := s.carts.Get(cartID, ownerFromContext(ctx))
	if err != nil {
		return domain.CommitResult{}, err
	}
	if err := session.BeginCommit(); err != nil {
		return domain.CommitResult{}, err
	}
	defer session.EndCommit()

	return s.committer.Commit(ctx, session.Engine, session.OwnerID, req.PaymentMethod)
}

func (s *Service) Report(ctx context.Context, p domain.Period) domain.SalesReport {
	return s.aggregator.Report(ctx, ownerFromContext(ctx), p)
}

// FindSale returns a sale the caller owns. Admins may read any sale.
func (s *Service) FindSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := s.aggregator.FindSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	actor, _ := ActorFromContext(ctx)
	if actor.Role == "admin" || sale.UserID == ownerFromContext(ctx) {
		return sale, nil
	}
	// hide other users' sales entirely
	return domain.Sale{}, store.ErrNotFound
}

func (s *Service) Receipt(ctx context.Context, saleID string) (domain.ReceiptResponse, error) {
	sale, err := s.FindSale(ctx, saleID)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}
	return domain.ReceiptResponse{
		SaleID:       sale.ID,
		EscposBase64: base64.StdEncoding.EncodeToString(receipt.Escpos(sale, s.symbol)),
		PreviewText:  receipt.Text(sale, s.symbol),
		FileName:     receipt.FileName(sale),
	}, nil
}

// ResetSales deletes every sale of the signed-in user from both backends
// after re-checking their password.
func (s *Service) ResetSales(ctx context.Context, password string) (domain.ResetSalesResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.IsGuest() {
		return domain.ResetSalesResponse{}, ErrForbidden
	}
	if s.users == nil {
		return domain.ResetSalesResponse{}, store.ErrUnavailable
	}
	account, err := s.users.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return domain.ResetSalesResponse{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(password)) != nil {
		return domain.ResetSalesResponse{}, ErrForbidden
	}

	logger := s.logger.With(zap.String("user_id", actor.UserID))
	resp := domain.ResetSalesResponse{UserID: actor.UserID}
	if s.remote != nil {
		rows, err := s.remote.DeleteSalesByUser(ctx, actor.UserID)
		if err != nil {
			return domain.ResetSalesResponse{}, fmt.Errorf("reset remote sales: %w", err)
		}
		resp.RemoteRows = rows
	}
	if s.local != nil {
		removed, err := s.local.RemoveUser(ctx, actor.UserID)
		if err != nil {
			return resp, fmt.Errorf("reset local sales: %w", err)
		}
		resp.LocalEntries = removed
	}

	if err := s.publisher.Publish(ctx, events.Event{
		Type:       events.TypeSalesReset,
		UserID:     actor.UserID,
		OccurredAt: s.now().UTC(),
	}); err != nil {
		logger.Warn("failed to publish reset event", zap.Error(err))
	}
	logger.Info("sales data reset", zap.Int64("remote_rows", resp.RemoteRows), zap.Int("local_entries", resp.LocalEntries))
	return resp, nil
}

func (s *Service) UserSalesTotals(ctx context.Context) ([]domain.UserSalesTotal, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, ErrForbidden
	}
	if s.remote == nil {
		return []domain.UserSalesTotal{}, nil
	}
	return s.remote.SalesTotalsByUser(ctx)
}

// PruneIdleCarts drops carts untouched for longer than idle.
func (s *Service) PruneIdleCarts(idle time.Duration) int {
	n := s.carts.PruneIdle(idle)
	if n > 0 {
		s.logger.Debug("pruned idle carts", zap.Int("count", n))
	}
	return n
}
