package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const GuestUserID = "guest"

type LineItem struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func (i LineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type CartView struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"owner_id"`
	Items             []LineItem      `json:"items"`
	CustomAmountDraft string          `json:"custom_amount_draft"`
	CustomAmount      decimal.Decimal `json:"custom_amount"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	CommitInFlight    bool            `json:"commit_in_flight"`
}

type Sale struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	CreatedAt     time.Time       `json:"created_at"`
	LineItems     []LineItem      `json:"line_items"`
	CustomAmount  decimal.Decimal `json:"custom_amount"`
}

type SaleSource string

const (
	SourceRemote SaleSource = "remote"
	SourceLocal  SaleSource = "local"
)

type CommitResult struct {
	OK     bool       `json:"ok"`
	ID     string     `json:"id,omitempty"`
	Source SaleSource `json:"source,omitempty"`
	Reason string     `json:"reason,omitempty"`
	Notice string     `json:"notice,omitempty"`
	Sale   *Sale      `json:"sale,omitempty"`
}

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

type Summary struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
	Count       int             `json:"count"`
	Average     decimal.Decimal `json:"average"`
}

type DayBucket struct {
	Date  string          `json:"date"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

type SalesReport struct {
	UserID      string      `json:"user_id"`
	Period      Period      `json:"period"`
	GeneratedAt time.Time   `json:"generated_at"`
	Sales       []Sale      `json:"sales"`
	Summary     Summary     `json:"summary"`
	Days        []DayBucket `json:"days"`
	Degraded    bool        `json:"degraded"`
}

type UserSalesTotal struct {
	UserID string          `json:"user_id"`
	Email  string          `json:"email"`
	Total  decimal.Decimal `json:"total"`
	Count  int             `json:"count"`
}

type ReceiptResponse struct {
	SaleID       string `json:"sale_id"`
	EscposBase64 string `json:"escpos_base64"`
	PreviewText  string `json:"preview_text"`
	FileName     string `json:"file_name"`
}

type Actor struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func (a Actor) IsGuest() bool {
	return a.UserID == "" || a.UserID == GuestUserID
}

type UserAccount struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type AddItemRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type CustomAmountRequest struct {
	Raw string `json:"raw" validate:"max=32"`
}

type CheckoutRequest struct {
	PaymentMethod string `json:"payment_method" validate:"omitempty,max=32"`
}

type ResetSalesRequest struct {
	Password string `json:"password" validate:"required"`
}

type ResetSalesResponse struct {
	UserID       string `json:"user_id"`
	RemoteRows   int64  `json:"remote_rows"`
	LocalEntries int    `json:"local_entries"`
}
