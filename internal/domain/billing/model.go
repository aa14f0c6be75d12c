package billing

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Mode is how money changed hands for a payment or refund.
type Mode string

const (
	ModeCash         Mode = "Cash"
	ModeCheque       Mode = "Cheque"
	ModeBankTransfer Mode = "BankTransfer"
	ModeUPI          Mode = "UPI"
)

var validModes = map[Mode]bool{
	ModeCash: true, ModeCheque: true, ModeBankTransfer: true, ModeUPI: true,
}

// Valid reports whether m is one of the accepted modes.
func (m Mode) Valid() bool { return validModes[m] }

// Tender carries the mode of a payment or refund and the attributes that
// only make sense for some modes.
type Tender struct {
	Mode         Mode   `json:"mode"`
	ReferenceNo  string `json:"referenceNo,omitempty"`
	ChequeNumber string `json:"chequeNumber,omitempty"`
	ChequeDate   string `json:"chequeDate,omitempty"`
	BankName     string `json:"bankName,omitempty"`
	TransferType string `json:"transferType,omitempty"`
	TransferDate string `json:"transferDate,omitempty"`
	UPIName      string `json:"upiName,omitempty"`
	UPIID        string `json:"upiId,omitempty"`
	UPIDate      string `json:"upiDate,omitempty"`
	DrawnOn      string `json:"drawnOn,omitempty"`
	DrawnAs      string `json:"drawnAs,omitempty"`
}

// InstrumentDate is the date printed in the "Cheque / UPI Date" column.
func (t Tender) InstrumentDate() string {
	switch t.Mode {
	case ModeCheque:
		return t.ChequeDate
	case ModeUPI:
		return t.UPIDate
	case ModeBankTransfer:
		return t.TransferDate
	}
	return ""
}

// InstrumentRef is the cheque number or UPI id.
func (t Tender) InstrumentRef() string {
	switch t.Mode {
	case ModeCheque:
		return t.ChequeNumber
	case ModeUPI:
		return t.UPIID
	}
	return ""
}

// Bank is the bank (cheque, transfer) or platform (UPI) column.
func (t Tender) Bank() string {
	switch t.Mode {
	case ModeCheque, ModeBankTransfer:
		return t.BankName
	case ModeUPI:
		return t.DrawnOn
	}
	return ""
}

// LineItem is one service row on a bill. Its amount is never stored.
type LineItem struct {
	Item     string          `json:"item"`
	Details  string          `json:"details,omitempty"`
	Quantity decimal.Decimal `json:"qty"`
	Rate     decimal.Decimal `json:"rate"`
}

// Amount returns quantity × rate.
func (li LineItem) Amount() decimal.Decimal {
	return li.Quantity.Mul(li.Rate)
}

// MarshalJSON adds the derived lineAmount so views never have to trust a
// stored copy.
func (li LineItem) MarshalJSON() ([]byte, error) {
	type plain LineItem
	return json.Marshal(struct {
		plain
		LineAmount string `json:"lineAmount"`
	}{plain(li), FormatMoney(li.Amount())})
}

// Payment is money received against a bill.
type Payment struct {
	ID        string          `json:"id"`
	BillID    string          `json:"billId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Date      string          `json:"date"`
	ReceiptNo string          `json:"receiptNo,omitempty"`
	Tender
}

// Refund is money returned against a bill.
type Refund struct {
	ID       string          `json:"id"`
	BillID   string          `json:"billId,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Date     string          `json:"date"`
	RefundNo string          `json:"refundNo,omitempty"`
	Tender
}

// Bill is one invoice for a patient visit as returned by the billing API.
// Totals are always derived from Services, Payments and Refunds.
type Bill struct {
	ID                 string     `json:"id"`
	InvoiceNo          string     `json:"invoiceNo,omitempty"`
	PatientName        string     `json:"patientName"`
	Sex                string     `json:"sex,omitempty"`
	Address            string     `json:"address,omitempty"`
	Age                string     `json:"age,omitempty"`
	Date               string     `json:"date"`
	Remarks            string     `json:"remarks,omitempty"`
	Services           []LineItem `json:"services"`
	Payments           []Payment  `json:"payments"`
	Refunds            []Refund   `json:"refunds"`
	ProcedureConfirmed bool       `json:"procedureConfirmed"`
}

// Number is the bill number shown on screens and documents.
func (b Bill) Number() string {
	if b.InvoiceNo != "" {
		return b.InvoiceNo
	}
	return PadBillNumber(b.ID)
}

// Total is the sum of the line amounts.
func (b *Bill) Total() decimal.Decimal {
	return Total(b.Services)
}

// Totals folds the payments and refunds against the bill total.
func (b *Bill) Totals() Totals {
	return Aggregate(b.Total(), b.Payments, b.Refunds)
}

// normalize replaces missing sub-collections with empty ones.
func (b *Bill) normalize() {
	if b.Services == nil {
		b.Services = []LineItem{}
	}
	if b.Payments == nil {
		b.Payments = []Payment{}
	}
	if b.Refunds == nil {
		b.Refunds = []Refund{}
	}
}

// PadBillNumber zero-pads numeric ids to four digits ("7" -> "0007").
func PadBillNumber(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) >= 4 {
		return id
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return id
		}
	}
	return strings.Repeat("0", 4-len(id)) + id
}

// Draft is a bill as entered at the desk, before the API assigns an id.
// Pay and Tender describe an optional payment taken at creation time.
type Draft struct {
	PatientName string
	Sex         string
	Address     string
	Age         string
	Date        string
	Remarks     string
	Services    []LineItem
	Pay         decimal.Decimal
	Tender      Tender
}

// Summary is one row of the bill list. The list endpoint does not embed
// sub-collections, so the figures are the ones the API reports.
type Summary struct {
	ID                 string       `json:"id"`
	InvoiceNo          string       `json:"invoiceNo,omitempty"`
	PatientName        string       `json:"patientName"`
	Date               string       `json:"date"`
	ProcedureConfirmed bool         `json:"procedureConfirmed"`
	Totals             Totals       `json:"totals"`
	Status             Status       `json:"status"`
	Capabilities       Capabilities `json:"capabilities"`
	Display            Display      `json:"display"`
}

// resolve fills the derived status fields from the reported figures.
func (s *Summary) resolve() {
	s.Status = ResolveStatus(s.Totals.Balance, s.ProcedureConfirmed)
	s.Capabilities = ResolveCapabilities(s.Totals, s.ProcedureConfirmed)
	s.Display = newDisplay(s.Date, s.Totals, s.Capabilities)
}

// ReceiptDoc is the data printed on a payment receipt.
type ReceiptDoc struct {
	Payment     Payment     `json:"payment"`
	PatientName string      `json:"patientName"`
	Bill        ReceiptBill `json:"bill"`
}

// RefundDoc is the data printed on a refund slip.
type RefundDoc struct {
	Refund      Refund      `json:"refund"`
	PatientName string      `json:"patientName"`
	Bill        ReceiptBill `json:"bill"`
}

// ReceiptBill is the bill summary box on a receipt.
type ReceiptBill struct {
	ID      string          `json:"id"`
	Date    string          `json:"date"`
	Total   decimal.Decimal `json:"total"`
	Paid    decimal.Decimal `json:"paid"`
	Balance decimal.Decimal `json:"balance"`
}

// Period is one block of the collection dashboard.
type Period struct {
	Label         string          `json:"label"`
	PaymentsTotal decimal.Decimal `json:"paymentsTotal"`
	PaymentsCount int             `json:"paymentsCount"`
	RefundsTotal  decimal.Decimal `json:"refundsTotal"`
	RefundsCount  int             `json:"refundsCount"`
	NetTotal      decimal.Decimal `json:"netTotal"`
}

// Dashboard is the today / month / year collection summary.
type Dashboard struct {
	Today Period `json:"today"`
	Month Period `json:"month"`
	Year  Period `json:"year"`
}
