package billing

import (
	"embed"
	"fmt"
	"html/template"
	"io"
)

//go:embed templates/*.html
var templateFS embed.FS

var printTemplates = template.Must(template.New("print").Funcs(template.FuncMap{
	"date":   FormatDate,
	"money":  FormatMoney,
	"rupees": Rupees,
	"pad":    PadBillNumber,
	"inc":    func(i int) int { return i + 1 },
}).ParseFS(templateFS, "templates/*.html"))

// Clinic is the letterhead printed on invoices and receipts.
type Clinic struct {
	Name         string
	Address      string
	Registration string
}

// RenderInvoice writes the printable invoice of a completed bill.
func RenderInvoice(w io.Writer, c Clinic, v View) error {
	if !v.Capabilities.CanDownloadInvoice {
		return ErrInvoiceLocked
	}
	data := struct {
		Clinic Clinic
		View
	}{c, v}
	if err := printTemplates.ExecuteTemplate(w, "invoice.html", data); err != nil {
		return fmt.Errorf("render invoice %s: %w", v.Bill.ID, err)
	}
	return nil
}

// RenderRefundSlip writes the slip handed over with one refund.
func RenderRefundSlip(w io.Writer, c Clinic, doc *RefundDoc) error {
	data := struct {
		Clinic Clinic
		Doc    *RefundDoc
	}{c, doc}
	if err := printTemplates.ExecuteTemplate(w, "refund.html", data); err != nil {
		return fmt.Errorf("render refund slip %s: %w", doc.Refund.ID, err)
	}
	return nil
}

// RenderReceipt writes the money receipt of one payment.
func RenderReceipt(w io.Writer, c Clinic, doc *ReceiptDoc) error {
	data := struct {
		Clinic Clinic
		Doc    *ReceiptDoc
	}{c, doc}
	if err := printTemplates.ExecuteTemplate(w, "receipt.html", data); err != nil {
		return fmt.Errorf("render receipt %s: %w", doc.Payment.ID, err)
	}
	return nil
}
