package receipt

import (
	"fmt"
	"strings"

	"blankpos/backend/internal/domain"
	"blankpos/backend/internal/money"
)

const (
	heavyRule = "================================="
	lightRule = "---------------------------------"
)

// ShortID is the receipt number printed for a sale.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func FileName(sale domain.Sale) string {
	return fmt.Sprintf("receipt-%s.txt", ShortID(sale.ID))
}

// Lines renders the receipt body one printed line per entry.
func Lines(sale domain.Sale, symbol string) []string {
	when := sale.CreatedAt
	lines := []string{
		heavyRule,
		center("BLANK POS SYSTEM"),
		heavyRule,
		"Receipt #" + ShortID(sale.ID),
		fmt.Sprintf("%s at %s", when.Format("January 2, 2006"), when.Format("3:04:05 PM")),
		lightRule,
	}
	for _, item := range sale.LineItems {
		lines = append(lines,
			item.Name,
			fmt.Sprintf("%d x %s = %s", item.Quantity, money.Format(item.UnitPrice, symbol), money.Format(item.Subtotal(), symbol)),
		)
	}
	if sale.CustomAmount.IsPositive() {
		lines = append(lines, "Custom Amount: "+money.Format(sale.CustomAmount, symbol))
	}
	lines = append(lines,
		lightRule,
		"TOTAL: "+money.Format(sale.TotalAmount, symbol),
		"Payment Method: "+sale.PaymentMethod,
		heavyRule,
		center("Thank you for your purchase!"),
		heavyRule,
	)
	return lines
}

func Text(sale domain.Sale, symbol string) string {
	return strings.Join(Lines(sale, symbol), "\n") + "\n"
}

// Escpos wraps the receipt in printer init and partial cut commands.
func Escpos(sale domain.Sale, symbol string) []byte {
	out := []byte{0x1b, 0x40}
	for _, line := range Lines(sale, symbol) {
		out = append(out, []byte(line)...)
		out = append(out, '\n')
	}
	return append(out, 0x1d, 0x56, 0x41, 0x10)
}

func center(s string) string {
	pad := (len(heavyRule) - len(s)) / 2
	if pad <= 0 {
		return s
	}
	return strings.Repeat(" ", pad) + s
}
