package cart

import (
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"blankpos/backend/internal/domain"
	"blankpos/backend/internal/money"
	"blankpos/backend/internal/xid"
)

// Engine holds the line items and custom amount of one sale in progress.
// The custom amount is kept as the raw draft text; only a valid parse counts
// toward the total.
type Engine struct {
	mu          sync.Mutex
	newID       func() string
	items       []domain.LineItem
	customDraft string
}

func New(newID func() string) *Engine {
	if newID == nil {
		newID = func() string { return xid.New("item") }
	}
	return &Engine{newID: newID}
}

// AddItem merges by name: an existing line gets one more unit, otherwise a
// new line with quantity 1 is appended.
func (e *Engine) AddItem(name string, unitPrice decimal.Decimal) domain.LineItem {
	name = strings.TrimSpace(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.items {
		if e.items[i].Name == name {
			e.items[i].Quantity++
			return e.items[i]
		}
	}
	item := domain.LineItem{
		ID:        e.newID(),
		Name:      name,
		UnitPrice: unitPrice,
		Quantity:  1,
	}
	e.items = append(e.items, item)
	return item
}

func (e *Engine) SetCustomAmount(raw string) {
	e.mu.Lock()
	e.customDraft = raw
	e.mu.Unlock()
}

// UpdateQuantity reports whether the item exists. Quantities below 1 are
// clamped to 1.
func (e *Engine) UpdateQuantity(itemID string, quantity int) bool {
	if quantity < 1 {
		quantity = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.items {
		if e.items[i].ID == itemID {
			e.items[i].Quantity = quantity
			return true
		}
	}
	return false
}

func (e *Engine) RemoveItem(itemID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.items = slices.DeleteFunc(e.items, func(item domain.LineItem) bool {
		return item.ID == itemID
	})
}

func (e *Engine) Clear() {
	e.mu.Lock()
	e.items = nil
	e.customDraft = ""
	e.mu.Unlock()
}

func (e *Engine) Items() []domain.LineItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.items)
}

func (e *Engine) CustomAmountDraft() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.customDraft
}

func (e *Engine) CustomAmount() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return parsedCustom(e.customDraft)
}

func (e *Engine) TotalAmount() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return total(e.items, e.customDraft)
}

func (e *Engine) IsEmpty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items) == 0 && e.customDraft == ""
}

// Snapshot is a consistent copy of the cart taken under one lock.
type Snapshot struct {
	Items             []domain.LineItem
	CustomAmountDraft string
	CustomAmount      decimal.Decimal
	TotalAmount       decimal.Decimal
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Items:             slices.Clone(e.items),
		CustomAmountDraft: e.customDraft,
		CustomAmount:      parsedCustom(e.customDraft),
		TotalAmount:       total(e.items, e.customDraft),
	}
}

func parsedCustom(draft string) decimal.Decimal {
	amount, ok := money.ParseAmount(draft)
	if !ok {
		return decimal.Zero
	}
	return amount
}

func total(items []domain.LineItem, draft string) decimal.Decimal {
	sum := parsedCustom(draft)
	for _, item := range items {
		sum = sum.Add(item.Subtotal())
	}
	return sum
}
