package billing

import (
	"github.com/shopspring/decimal"
)

// Status is the label shown for a bill.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusPaidInFull Status = "Paid in Full"
	StatusCompleted  Status = "Treatment Completed"
)

// CompletedLabel replaces the balance once treatment is completed.
const CompletedLabel = "Completed"

// ResolveStatus derives the bill status. procedureConfirmed dominates the
// balance: a completed bill is never Pending or Paid in Full.
func ResolveStatus(balance decimal.Decimal, procedureConfirmed bool) Status {
	switch {
	case procedureConfirmed:
		return StatusCompleted
	case balance.IsPositive():
		return StatusPending
	default:
		return StatusPaidInFull
	}
}

// Capabilities are the actions a desk user may take on a bill right now.
type Capabilities struct {
	CanPay             bool            `json:"canPay"`
	CanRefund          bool            `json:"canRefund"`
	CanMarkComplete    bool            `json:"canMarkComplete"`
	CanDownloadInvoice bool            `json:"canDownloadInvoice"`
	ShowBalance        bool            `json:"showBalance"`
	MaxPayment         decimal.Decimal `json:"maxPayment"`
	MaxRefund          decimal.Decimal `json:"maxRefund"`
}

// ResolveCapabilities derives the enabled actions. Completion is terminal:
// it disables payment, refund and the completion action itself and unlocks
// the invoice.
func ResolveCapabilities(t Totals, procedureConfirmed bool) Capabilities {
	if procedureConfirmed {
		return Capabilities{CanDownloadInvoice: true}
	}
	c := Capabilities{CanMarkComplete: true, ShowBalance: true}
	if t.Balance.IsPositive() {
		c.CanPay = true
		c.MaxPayment = t.Balance
	}
	if t.Paid.IsPositive() {
		c.CanRefund = true
		c.MaxRefund = t.Paid
	}
	return c
}

// Display holds the presentation strings of a bill summary.
type Display struct {
	Date     string `json:"date"`
	Total    string `json:"total"`
	Paid     string `json:"paid"`
	Refunded string `json:"refunded"`
	Balance  string `json:"balance"`
}

func newDisplay(date string, t Totals, c Capabilities) Display {
	return Display{
		Date:     FormatDate(date),
		Total:    Rupees(t.Total),
		Paid:     Rupees(t.DisplayPaid()),
		Refunded: Rupees(t.Refunded),
		Balance:  BalanceLabel(t, c),
	}
}

// BalanceLabel is the balance as shown in summaries, or "Completed" once the
// balance is hidden.
func BalanceLabel(t Totals, c Capabilities) string {
	if !c.ShowBalance {
		return CompletedLabel
	}
	return Rupees(t.Balance)
}

// View is a bill with everything derived from it.
type View struct {
	Bill         Bill         `json:"bill"`
	Totals       Totals       `json:"totals"`
	Status       Status       `json:"status"`
	Capabilities Capabilities `json:"capabilities"`
	Display      Display      `json:"display"`
	// Optimistic is set while a local patch has not been reconciled with
	// the billing API yet.
	Optimistic bool `json:"optimistic"`
}

// NewView derives totals, status and capabilities for b.
func NewView(b Bill) View {
	b.normalize()
	t := b.Totals()
	caps := ResolveCapabilities(t, b.ProcedureConfirmed)
	return View{
		Bill:         b,
		Totals:       t,
		Status:       ResolveStatus(t.Balance, b.ProcedureConfirmed),
		Capabilities: caps,
		Display:      newDisplay(b.Date, t, caps),
	}
}
