package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"blankpos/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidRecord = errors.New("invalid record")
	ErrConflict      = errors.New("already exists")
	ErrUnavailable   = errors.New("remote store unavailable")
)

// SaleRow is the remote table shape. It carries no line-item detail.
type SaleRow struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	CreatedAt     time.Time       `json:"created_at"`
}

type NewSale struct {
	UserID        string
	Total         decimal.Decimal
	PaymentMethod string
}

// SalesStore is the authoritative remote store. Ids and timestamps are
// generated by the store on insert.
type SalesStore interface {
	InsertSale(ctx context.Context, sale NewSale) (SaleRow, error)
	ListSalesByUser(ctx context.Context, userID string) ([]SaleRow, error)
	GetSale(ctx context.Context, id string) (SaleRow, error)
	DeleteSalesByUser(ctx context.Context, userID string) (int64, error)
	SalesTotalsByUser(ctx context.Context) ([]domain.UserSalesTotal, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) (domain.UserAccount, error)
	GetUserByEmail(ctx context.Context, email string) (domain.UserAccount, error)
	GetUserByID(ctx context.Context, id string) (domain.UserAccount, error)
}

type Repository interface {
	SalesStore
	UserStore
	Close() error
}
