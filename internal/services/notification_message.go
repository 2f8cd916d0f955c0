package services

import (
	"strings"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/telegram"
)

// FormatOrderMessage renders the merchant notification for order in MarkdownV2.
// Output depends only on the order, so a retried send carries identical text.
func FormatOrderMessage(order Order) string {
	esc := telegram.EscapeMarkdownV2

	var b strings.Builder
	b.WriteString("🛒 *New order \\#" + esc(order.OrderNumber) + "*\n\n")
	b.WriteString("👤 *Buyer:* " + esc(order.Buyer.Name) + "\n")
	b.WriteString("📱 *Phone:* `" + esc(order.Buyer.Phone) + "`\n")
	b.WriteString("📍 *Address:* " + esc(order.Buyer.Address) + "\n\n")
	b.WriteString("📦 *Items:*\n")
	for _, item := range order.Items {
		b.WriteString("• " + esc(item.ProductName) + ": " + esc(domain.FormatQuantity(item.QuantityKg)) + " kg\n")
	}
	b.WriteString("\n📊 *Total weight:* " + esc(domain.FormatQuantity(order.TotalWeight)) + " kg")
	if notes := strings.TrimSpace(order.Notes); notes != "" {
		b.WriteString("\n\n📝 *Notes:* " + esc(notes))
	}
	return b.String()
}
