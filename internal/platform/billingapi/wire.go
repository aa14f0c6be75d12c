package billingapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/clinic/billdesk/internal/domain/billing"
)

// The billing API is loosely typed: ids arrive as numbers or strings, flags
// as booleans or strings, and several fields have older alias keys. The wire
// types below absorb that and convert to the billing domain.

// flexString accepts a JSON string, number or boolean.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*f = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
	case data[0] == '{', data[0] == '[':
		*f = ""
	default:
		*f = flexString(data)
	}
	return nil
}

// flexBool accepts true, "true", 1 and "1".
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, err := strconv.ParseBool(strings.ToLower(s))
	*f = flexBool(err == nil && v)
	return nil
}

// first returns the first non-empty value.
func first(vals ...flexString) string {
	for _, v := range vals {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

// ParseMode maps the spellings the API has used for a payment mode onto a
// billing.Mode. An empty mode is Cash; anything unknown is kept as sent.
func ParseMode(raw string) billing.Mode {
	key := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.TrimSpace(raw)))
	switch key {
	case "", "cash":
		return billing.ModeCash
	case "cheque", "check":
		return billing.ModeCheque
	case "banktransfer", "bank", "transfer", "neft", "rtgs", "imps":
		return billing.ModeBankTransfer
	case "upi":
		return billing.ModeUPI
	}
	return billing.Mode(strings.TrimSpace(raw))
}

type wireTender struct {
	Mode          flexString `json:"mode"`
	PaymentMode   flexString `json:"paymentMode"`
	ReferenceNo   flexString `json:"referenceNo"`
	RefNo         flexString `json:"refNo"`
	ReferenceNoS  flexString `json:"reference_no"`
	TransactionID flexString `json:"transactionId"`
	ChequeNumber  flexString `json:"chequeNumber"`
	ChequeNoS     flexString `json:"cheque_no"`
	ChequeNum     flexString `json:"chequeNum"`
	ChequeDate    flexString `json:"chequeDate"`
	ChequeDateS   flexString `json:"cheque_date"`
	BankName      flexString `json:"bankName"`
	Bank          flexString `json:"bank"`
	BankNameS     flexString `json:"bank_name"`
	TransferType  flexString `json:"transferType"`
	TransferDate  flexString `json:"transferDate"`
	TransferDateS flexString `json:"transfer_date"`
	UPIName       flexString `json:"upiName"`
	UPIID         flexString `json:"upiId"`
	UPIIDS        flexString `json:"upi_id"`
	UPIDate       flexString `json:"upiDate"`
	UPIDateS      flexString `json:"upi_date"`
	DrawnOn       flexString `json:"drawnOn"`
	Platform      flexString `json:"platform"`
	UPIPlatform   flexString `json:"upiPlatform"`
	DrawnAs       flexString `json:"drawnAs"`
}

func (w wireTender) tender() billing.Tender {
	return billing.Tender{
		Mode:         ParseMode(first(w.Mode, w.PaymentMode)),
		ReferenceNo:  first(w.ReferenceNo, w.RefNo, w.ReferenceNoS, w.TransactionID),
		ChequeNumber: first(w.ChequeNumber, w.ChequeNoS, w.ChequeNum),
		ChequeDate:   first(w.ChequeDate, w.ChequeDateS),
		BankName:     first(w.BankName, w.Bank, w.BankNameS),
		TransferType: first(w.TransferType),
		TransferDate: first(w.TransferDate, w.TransferDateS),
		UPIName:      first(w.UPIName),
		UPIID:        first(w.UPIID, w.UPIIDS),
		UPIDate:      first(w.UPIDate, w.UPIDateS),
		DrawnOn:      first(w.DrawnOn, w.UPIPlatform, w.Platform),
		DrawnAs:      first(w.DrawnAs),
	}
}

type wireLine struct {
	Item        flexString      `json:"item"`
	Name        flexString      `json:"name"`
	Details     flexString      `json:"details"`
	Description flexString      `json:"description"`
	Qty         *billing.Amount `json:"qty"`
	Quantity    *billing.Amount `json:"quantity"`
	Rate        *billing.Amount `json:"rate"`
	Price       *billing.Amount `json:"price"`
}

func (w wireLine) lineItem() billing.LineItem {
	qty := decimal.NewFromInt(1)
	switch {
	case w.Qty != nil:
		qty = w.Qty.Decimal()
	case w.Quantity != nil:
		qty = w.Quantity.Decimal()
	}
	rate := decimal.Zero
	switch {
	case w.Rate != nil:
		rate = w.Rate.Decimal()
	case w.Price != nil:
		rate = w.Price.Decimal()
	}
	return billing.NewLineItem(first(w.Item, w.Name), first(w.Details, w.Description), qty, rate)
}

type wirePayment struct {
	ID            flexString     `json:"id"`
	BillID        flexString     `json:"billId"`
	Amount        billing.Amount `json:"amount"`
	Date          flexString     `json:"date"`
	PaymentDate   flexString     `json:"paymentDate"`
	ReceiptNo     flexString     `json:"receiptNo"`
	ReceiptNumber flexString     `json:"receiptNumber"`
	wireTender
}

func (w wirePayment) payment() billing.Payment {
	return billing.Payment{
		ID:        string(w.ID),
		BillID:    string(w.BillID),
		Amount:    w.Amount.Decimal(),
		Date:      first(w.Date, w.PaymentDate),
		ReceiptNo: first(w.ReceiptNo, w.ReceiptNumber),
		Tender:    w.tender(),
	}
}

type wireRefund struct {
	ID           flexString     `json:"id"`
	BillID       flexString     `json:"billId"`
	Amount       billing.Amount `json:"amount"`
	Date         flexString     `json:"date"`
	RefundDate   flexString     `json:"refundDate"`
	RefundNo     flexString     `json:"refundNo"`
	RefundNumber flexString     `json:"refundNumber"`
	wireTender
}

func (w wireRefund) refund() billing.Refund {
	return billing.Refund{
		ID:       string(w.ID),
		BillID:   string(w.BillID),
		Amount:   w.Amount.Decimal(),
		Date:     first(w.Date, w.RefundDate),
		RefundNo: first(w.RefundNo, w.RefundNumber),
		Tender:   w.tender(),
	}
}

type wireBill struct {
	ID                 flexString     `json:"id"`
	InvoiceNo          flexString     `json:"invoiceNo"`
	PatientName        flexString     `json:"patientName"`
	Sex                flexString     `json:"sex"`
	Address            flexString     `json:"address"`
	Age                flexString     `json:"age"`
	Date               flexString     `json:"date"`
	Remarks            flexString     `json:"remarks"`
	Services           []wireLine     `json:"services"`
	Items              []wireLine     `json:"items"`
	Payments           []wirePayment  `json:"payments"`
	Refunds            []wireRefund   `json:"refunds"`
	ProcedureConfirmed flexBool       `json:"procedureConfirmed"`
	Total              billing.Amount `json:"total"`
	Paid               billing.Amount `json:"paid"`
	Refunded           billing.Amount `json:"refunded"`
}

func (w *wireBill) bill() *billing.Bill {
	lines := w.Services
	if lines == nil {
		lines = w.Items
	}
	b := &billing.Bill{
		ID:                 string(w.ID),
		InvoiceNo:          string(w.InvoiceNo),
		PatientName:        string(w.PatientName),
		Sex:                string(w.Sex),
		Address:            string(w.Address),
		Age:                string(w.Age),
		Date:               string(w.Date),
		Remarks:            string(w.Remarks),
		Services:           make([]billing.LineItem, 0, len(lines)),
		Payments:           make([]billing.Payment, 0, len(w.Payments)),
		Refunds:            make([]billing.Refund, 0, len(w.Refunds)),
		ProcedureConfirmed: bool(w.ProcedureConfirmed),
	}
	for _, l := range lines {
		b.Services = append(b.Services, l.lineItem())
	}
	for _, p := range w.Payments {
		pay := p.payment()
		if pay.BillID == "" {
			pay.BillID = b.ID
		}
		b.Payments = append(b.Payments, pay)
	}
	for _, r := range w.Refunds {
		ref := r.refund()
		if ref.BillID == "" {
			ref.BillID = b.ID
		}
		b.Refunds = append(b.Refunds, ref)
	}
	return b
}

func (w *wireBill) summary() *billing.Summary {
	return &billing.Summary{
		ID:                 string(w.ID),
		InvoiceNo:          string(w.InvoiceNo),
		PatientName:        string(w.PatientName),
		Date:               string(w.Date),
		ProcedureConfirmed: bool(w.ProcedureConfirmed),
		Totals:             billing.ReportedTotals(w.Total.Decimal(), w.Paid.Decimal(), w.Refunded.Decimal()),
	}
}

// wireReceipt is the body of GET /api/payments/{id}.
type wireReceipt struct {
	wirePayment
	PatientName flexString `json:"patientName"`
	Bill        struct {
		ID          flexString     `json:"id"`
		Date        flexString     `json:"date"`
		Total       billing.Amount `json:"total"`
		Paid        billing.Amount `json:"paid"`
		Balance     billing.Amount `json:"balance"`
		PatientName flexString     `json:"patientName"`
	} `json:"bill"`
}

func (w *wireReceipt) doc() *billing.ReceiptDoc {
	p := w.payment()
	if p.BillID == "" {
		p.BillID = string(w.Bill.ID)
	}
	return &billing.ReceiptDoc{
		Payment:     p,
		PatientName: first(w.PatientName, w.Bill.PatientName),
		Bill: billing.ReceiptBill{
			ID:      string(w.Bill.ID),
			Date:    string(w.Bill.Date),
			Total:   w.Bill.Total.Decimal(),
			Paid:    w.Bill.Paid.Decimal(),
			Balance: w.Bill.Balance.Decimal(),
		},
	}
}

type wirePeriod struct {
	Label         flexString     `json:"label"`
	PaymentsTotal billing.Amount `json:"paymentsTotal"`
	PaymentsCount billing.Amount `json:"paymentsCount"`
	RefundsTotal  billing.Amount `json:"refundsTotal"`
	RefundsCount  billing.Amount `json:"refundsCount"`
	NetTotal      billing.Amount `json:"netTotal"`
}

func (w wirePeriod) period() billing.Period {
	return billing.Period{
		Label:         string(w.Label),
		PaymentsTotal: w.PaymentsTotal.Decimal(),
		PaymentsCount: int(w.PaymentsCount.Decimal().IntPart()),
		RefundsTotal:  w.RefundsTotal.Decimal(),
		RefundsCount:  int(w.RefundsCount.Decimal().IntPart()),
		NetTotal:      w.NetTotal.Decimal(),
	}
}

type wireDashboard struct {
	Today wirePeriod `json:"today"`
	Month wirePeriod `json:"month"`
	Year  wirePeriod `json:"year"`
}

// -- Outgoing bodies --

// Outgoing money goes out as JSON numbers.

type lineBody struct {
	Item    string         `json:"item"`
	Details string         `json:"details"`
	Qty     billing.Amount `json:"qty"`
	Rate    billing.Amount `json:"rate"`
}

type tenderBody struct {
	Mode         billing.Mode `json:"mode"`
	ReferenceNo  string       `json:"referenceNo,omitempty"`
	ChequeNumber string       `json:"chequeNumber,omitempty"`
	ChequeDate   string       `json:"chequeDate,omitempty"`
	BankName     string       `json:"bankName,omitempty"`
	TransferType string       `json:"transferType,omitempty"`
	TransferDate string       `json:"transferDate,omitempty"`
	UPIName      string       `json:"upiName,omitempty"`
	UPIID        string       `json:"upiId,omitempty"`
	UPIDate      string       `json:"upiDate,omitempty"`
	DrawnOn      string       `json:"drawnOn,omitempty"`
	DrawnAs      string       `json:"drawnAs,omitempty"`
}

func newTenderBody(t billing.Tender) tenderBody {
	return tenderBody{
		Mode:         t.Mode,
		ReferenceNo:  t.ReferenceNo,
		ChequeNumber: t.ChequeNumber,
		ChequeDate:   t.ChequeDate,
		BankName:     t.BankName,
		TransferType: t.TransferType,
		TransferDate: t.TransferDate,
		UPIName:      t.UPIName,
		UPIID:        t.UPIID,
		UPIDate:      t.UPIDate,
		DrawnOn:      t.DrawnOn,
		DrawnAs:      t.DrawnAs,
	}
}

type billBody struct {
	PatientName string     `json:"patientName"`
	Sex         string     `json:"sex"`
	Address     string     `json:"address"`
	Age         string     `json:"age"`
	Date        string     `json:"date"`
	Remarks     string     `json:"remarks"`
	Services    []lineBody `json:"services"`
}

func newBillBody(d *billing.Draft) billBody {
	b := billBody{
		PatientName: d.PatientName,
		Sex:         d.Sex,
		Address:     d.Address,
		Age:         d.Age,
		Date:        d.Date,
		Remarks:     d.Remarks,
		Services:    make([]lineBody, 0, len(d.Services)),
	}
	for _, li := range d.Services {
		b.Services = append(b.Services, lineBody{
			Item:    li.Item,
			Details: li.Details,
			Qty:     billing.NewAmount(li.Quantity),
			Rate:    billing.NewAmount(li.Rate),
		})
	}
	return b
}

// createBody is billBody plus the payment taken at creation.
type createBody struct {
	billBody
	Pay         billing.Amount `json:"pay"`
	PaymentMode billing.Mode   `json:"paymentMode"`
	tenderBody
}

type moneyBody struct {
	Amount billing.Amount `json:"amount"`
	Date   string         `json:"date"`
	tenderBody
}
