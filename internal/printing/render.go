package printing

import (
	"fmt"
	"strconv"

	"dinein/backend/internal/domain"
)

func qtyLabel(item domain.CartItem) string {
	if item.Measure > 0 && item.Unit != "" && item.Unit != domain.UnitPerItem {
		return strconv.FormatFloat(item.Measure, 'f', -1, 64) + item.Unit
	}
	return fmt.Sprintf("%dx", item.Qty)
}

// RenderReceipt lays out a customer receipt for a completed order.
func RenderReceipt(order domain.Order, tpl domain.PrintTemplate, width int) []byte {
	d := NewDocument(width)

	d.Align(AlignCenter)
	if tpl.Header != "" {
		d.Bold(true).Lines(tpl.Header).Bold(false)
	}
	if tpl.ShowToken && order.TokenNum > 0 {
		d.Large(true).Textf("TOKEN %d", order.TokenNum).Large(false)
	}
	d.Textf("Order %s", order.OrderNum)
	if order.TableID != "" {
		d.Textf("Table %s", order.TableID)
	}
	completed := order.CreatedAt
	if order.CompletedAt != nil {
		completed = *order.CompletedAt
	}
	d.Text(completed.Format("2006-01-02 15:04"))

	d.Align(AlignLeft).Separator()
	for _, item := range order.Items {
		switch {
		case item.Void:
			continue
		case item.Comp:
			d.ItemLine(qtyLabel(item), item.Name, "COMP")
		default:
			d.ItemLine(qtyLabel(item), item.Name, money(item.Total))
		}
		for _, m := range item.Modifiers {
			d.Text("  + " + m.Name)
		}
		if item.Note != "" {
			d.Text("  * " + item.Note)
		}
	}
	d.Separator()

	p := order.Payment
	d.KeyValue("Subtotal", money(p.SubTotal))
	if p.Discount > 0 {
		d.KeyValue("Discount", "-"+money(p.Discount))
	}
	for _, c := range p.Charges {
		d.KeyValue(c.Name, money(c.Total))
	}
	d.KeyValue("VAT", money(p.Vat))
	d.Bold(true).KeyValue("TOTAL", money(p.Total)).Bold(false)
	d.Separator()

	change := 0.0
	for _, b := range p.Breakup {
		d.KeyValue(b.Provider, money(b.Total))
		change += b.Change
	}
	if change > 0 {
		d.KeyValue("Change", money(change))
	}

	if tpl.Footer != "" {
		d.Feed(1).Align(AlignCenter).Lines(tpl.Footer).Align(AlignLeft)
	}
	d.Feed(3)
	return d.Bytes()
}

// RenderKOT lays out a kitchen ticket. Prices are never printed.
func RenderKOT(ticket domain.KOT, tokenNum int, tpl domain.PrintTemplate, width int) []byte {
	d := NewDocument(width)

	d.Align(AlignCenter)
	if tpl.Header != "" {
		d.Lines(tpl.Header)
	}
	d.Bold(true).Large(true).Text(ticket.KitchenName).Large(false).Bold(false)
	if tpl.ShowToken && tokenNum > 0 {
		d.Large(true).Textf("TOKEN %d", tokenNum).Large(false)
	}
	if ticket.TableID != "" {
		d.Textf("Table %s", ticket.TableID)
	}
	d.Text(ticket.SentAt.Format("15:04:05"))

	d.Align(AlignLeft).Separator()
	for _, item := range ticket.Items {
		line := qtyLabel(item) + " " + item.Name
		if item.Void {
			line = "VOID " + line
		}
		d.Bold(true).Text(line).Bold(false)
		for _, m := range item.Modifiers {
			d.Text("  + " + m.Name)
		}
		if item.Note != "" {
			d.Text("  * " + item.Note)
		}
	}
	d.Separator()

	if tpl.Footer != "" {
		d.Align(AlignCenter).Lines(tpl.Footer).Align(AlignLeft)
	}
	d.Feed(3)
	return d.Bytes()
}
