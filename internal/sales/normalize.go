package sales

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"blankpos/backend/internal/domain"
	"blankpos/backend/internal/locallog"
	"blankpos/backend/internal/store"
)

// NormalizeRemote maps a remote table row to a Sale. Remote rows carry no
// line items or custom amount.
func NormalizeRemote(row store.SaleRow) domain.Sale {
	return domain.Sale{
		ID:            row.ID,
		UserID:        row.UserID,
		TotalAmount:   row.Total,
		PaymentMethod: row.PaymentMethod,
		CreatedAt:     row.CreatedAt,
		LineItems:     []domain.LineItem{},
		CustomAmount:  decimal.Zero,
	}
}

// NormalizeLocal maps a local log snapshot to a Sale. Unparseable amounts
// read as zero and an unparseable date as the zero time.
func NormalizeLocal(rec locallog.Record) domain.Sale {
	items := make([]domain.LineItem, 0, len(rec.Items))
	for _, item := range rec.Items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		items = append(items, domain.LineItem{
			ID:        item.ID,
			Name:      item.Name,
			UnitPrice: number(item.Price),
			Quantity:  qty,
		})
	}
	return domain.Sale{
		ID:            rec.ID,
		UserID:        rec.UserID,
		TotalAmount:   number(rec.TotalAmount),
		PaymentMethod: rec.PaymentMethod,
		CreatedAt:     parseDate(rec.Date),
		LineItems:     items,
		CustomAmount:  number(rec.CustomAmount),
	}
}

// ToRecord is the inverse of NormalizeLocal.
func ToRecord(sale domain.Sale) locallog.Record {
	items := make([]locallog.RecordItem, 0, len(sale.LineItems))
	for _, item := range sale.LineItems {
		items = append(items, locallog.RecordItem{
			ID:       item.ID,
			Name:     item.Name,
			Price:    json.Number(item.UnitPrice.String()),
			Quantity: item.Quantity,
		})
	}
	return locallog.Record{
		ID:            sale.ID,
		Items:         items,
		CustomAmount:  json.Number(sale.CustomAmount.String()),
		TotalAmount:   json.Number(sale.TotalAmount.String()),
		PaymentMethod: sale.PaymentMethod,
		Date:          sale.CreatedAt.UTC().Format(time.RFC3339Nano),
		UserID:        sale.UserID,
	}
}

// Merge combines both backends into one list with at most one Sale per id,
// newest first. On a shared id the remote row wins; the local snapshot only
// contributes the item detail the remote row lacks.
func Merge(rows []store.SaleRow, records []locallog.Record) []domain.Sale {
	localByID := make(map[string]domain.Sale, len(records))
	for _, rec := range records {
		localByID[rec.ID] = NormalizeLocal(rec)
	}

	seen := make(map[string]struct{}, len(rows)+len(records))
	merged := make([]domain.Sale, 0, len(rows)+len(records))
	for _, row := range rows {
		if _, dup := seen[row.ID]; dup {
			continue
		}
		seen[row.ID] = struct{}{}
		sale := NormalizeRemote(row)
		if snap, ok := localByID[row.ID]; ok {
			sale.LineItems = snap.LineItems
			sale.CustomAmount = snap.CustomAmount
		}
		merged = append(merged, sale)
	}
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		merged = append(merged, localByID[rec.ID])
	}

	slices.SortStableFunc(merged, func(a, b domain.Sale) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return merged
}

func number(n json.Number) decimal.Decimal {
	raw := strings.TrimSpace(string(n))
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
