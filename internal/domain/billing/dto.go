package billing

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// TenderRequest is the mode block of a payment, refund or new-bill request.
type TenderRequest struct {
	Mode         string `json:"mode" validate:"omitempty,oneof=Cash Cheque BankTransfer UPI"`
	ReferenceNo  string `json:"referenceNo" validate:"max=64"`
	ChequeNumber string `json:"chequeNumber" validate:"required_if=Mode Cheque,max=32"`
	ChequeDate   string `json:"chequeDate" validate:"omitempty,datetime=2006-01-02"`
	BankName     string `json:"bankName" validate:"max=120"`
	TransferType string `json:"transferType" validate:"omitempty,oneof=IMPS NEFT RTGS"`
	TransferDate string `json:"transferDate" validate:"omitempty,datetime=2006-01-02"`
	UPIName      string `json:"upiName" validate:"max=120"`
	UPIID        string `json:"upiId" validate:"max=120"`
	UPIDate      string `json:"upiDate" validate:"omitempty,datetime=2006-01-02"`
	DrawnOn      string `json:"drawnOn" validate:"max=120"`
	DrawnAs      string `json:"drawnAs" validate:"max=120"`
}

// Tender converts the request. An empty mode means Cash.
func (r TenderRequest) Tender() Tender {
	mode := Mode(strings.TrimSpace(r.Mode))
	if mode == "" {
		mode = ModeCash
	}
	return Tender{
		Mode:         mode,
		ReferenceNo:  strings.TrimSpace(r.ReferenceNo),
		ChequeNumber: strings.TrimSpace(r.ChequeNumber),
		ChequeDate:   r.ChequeDate,
		BankName:     strings.TrimSpace(r.BankName),
		TransferType: r.TransferType,
		TransferDate: r.TransferDate,
		UPIName:      strings.TrimSpace(r.UPIName),
		UPIID:        strings.TrimSpace(r.UPIID),
		UPIDate:      r.UPIDate,
		DrawnOn:      strings.TrimSpace(r.DrawnOn),
		DrawnAs:      strings.TrimSpace(r.DrawnAs),
	}
}

// PaymentRequest is the body of a pay-pending submission.
type PaymentRequest struct {
	Amount Amount `json:"amount"`
	Date   string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	TenderRequest
}

func (r *PaymentRequest) Validate() error {
	return validate.Struct(r)
}

func (r *PaymentRequest) Payment() Payment {
	return Payment{Amount: r.Amount.Decimal(), Date: r.Date, Tender: r.Tender()}
}

// RefundRequest is the body of an issue-refund submission.
type RefundRequest struct {
	Amount Amount `json:"amount"`
	Date   string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	TenderRequest
}

func (r *RefundRequest) Validate() error {
	return validate.Struct(r)
}

func (r *RefundRequest) Refund() Refund {
	return Refund{Amount: r.Amount.Decimal(), Date: r.Date, Tender: r.Tender()}
}

// ServiceRequest is one service row. Qty and rate may be numbers or
// numeric strings.
type ServiceRequest struct {
	Item    string `json:"item" validate:"max=200"`
	Details string `json:"details" validate:"max=500"`
	Qty     Amount `json:"qty"`
	Rate    Amount `json:"rate"`
}

// BillRequest creates or edits a bill. Pay and Payment are ignored on edit.
type BillRequest struct {
	PatientName string           `json:"patientName" validate:"required,max=200"`
	Sex         string           `json:"sex" validate:"max=16"`
	Address     string           `json:"address" validate:"max=500"`
	Age         string           `json:"age" validate:"omitempty,numeric,max=3"`
	Date        string           `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Remarks     string           `json:"remarks" validate:"max=1000"`
	Services    []ServiceRequest `json:"services" validate:"required,min=1,dive"`
	Pay         Amount           `json:"pay"`
	Payment     *TenderRequest   `json:"payment"`
}

func (r *BillRequest) Validate() error {
	return validate.Struct(r)
}

func (r *BillRequest) Draft() *Draft {
	d := &Draft{
		PatientName: strings.TrimSpace(r.PatientName),
		Sex:         strings.TrimSpace(r.Sex),
		Address:     strings.TrimSpace(r.Address),
		Age:         strings.TrimSpace(r.Age),
		Date:        r.Date,
		Remarks:     strings.TrimSpace(r.Remarks),
		Pay:         ParseAmount(r.Pay),
	}
	for _, s := range r.Services {
		d.Services = append(d.Services, NewLineItem(strings.TrimSpace(s.Item), strings.TrimSpace(s.Details), s.Qty, s.Rate))
	}
	if r.Payment != nil {
		d.Tender = r.Payment.Tender()
	} else {
		d.Tender = Tender{Mode: ModeCash}
	}
	return d
}
