package billing

import (
	"github.com/shopspring/decimal"
)

// Totals are the derived financial figures of one bill.
//
// Paid is net of refunds and may go negative if the API ever reports more
// refunded than received; Balance is always Total - Paid on the signed value.
type Totals struct {
	Total     decimal.Decimal `json:"total"`
	GrossPaid decimal.Decimal `json:"grossPaid"`
	Refunded  decimal.Decimal `json:"refunded"`
	Paid      decimal.Decimal `json:"paid"`
	Balance   decimal.Decimal `json:"balance"`
}

// Aggregate folds payments and refunds against total. The result does not
// depend on the order of either list.
func Aggregate(total decimal.Decimal, payments []Payment, refunds []Refund) Totals {
	gross := decimal.Zero
	for _, p := range payments {
		gross = gross.Add(p.Amount)
	}
	refunded := decimal.Zero
	for _, r := range refunds {
		refunded = refunded.Add(r.Amount)
	}
	paid := gross.Sub(refunded)
	return Totals{
		Total:     total,
		GrossPaid: gross,
		Refunded:  refunded,
		Paid:      paid,
		Balance:   total.Sub(paid),
	}
}

// ReportedTotals builds Totals from figures the API computed itself. Only
// Paid and Total are trusted; Balance is re-derived.
func ReportedTotals(total, paid, refunded decimal.Decimal) Totals {
	return Totals{
		Total:     total,
		GrossPaid: paid.Add(refunded),
		Refunded:  refunded,
		Paid:      paid,
		Balance:   total.Sub(paid),
	}
}

// DisplayPaid is net paid clamped at zero.
func (t Totals) DisplayPaid() decimal.Decimal {
	if t.Paid.IsNegative() {
		return decimal.Zero
	}
	return t.Paid
}

// ValidatePayment checks 0 < amount <= balance.
func ValidatePayment(t Totals, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid(ErrNonPositiveAmount, "payment amount %s", FormatMoney(amount))
	}
	if amount.GreaterThan(t.Balance) {
		return invalid(ErrPaymentExceedsBalance, "%s requested, %s pending", FormatMoney(amount), FormatMoney(t.Balance))
	}
	return nil
}

// ValidateRefund checks 0 < amount <= net paid.
func ValidateRefund(t Totals, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid(ErrNonPositiveAmount, "refund amount %s", FormatMoney(amount))
	}
	if amount.GreaterThan(t.Paid) {
		return invalid(ErrRefundExceedsNetPaid, "%s requested, %s refundable", FormatMoney(amount), FormatMoney(t.DisplayPaid()))
	}
	return nil
}

// ValidateInitialPay checks the optional payment taken when a bill is
// created: 0 <= pay <= total.
func ValidateInitialPay(total, pay decimal.Decimal) error {
	if pay.IsNegative() {
		return invalid(ErrNonPositiveAmount, "amount paid %s", FormatMoney(pay))
	}
	if pay.GreaterThan(total) {
		return invalid(ErrInitialPayExceedsTotal, "%s paid, bill total %s", FormatMoney(pay), FormatMoney(total))
	}
	return nil
}
