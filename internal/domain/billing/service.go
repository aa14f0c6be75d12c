package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Service struct {
	repo   BillRepository
	desk   *Desk
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo BillRepository, desk *Desk, logger zerolog.Logger) *Service {
	return &Service{repo: repo, desk: desk, logger: logger, now: time.Now}
}

// Desk returns the session registry used by the service.
func (s *Service) Desk() *Desk {
	return s.desk
}

// -- Bills --

func (s *Service) CreateBill(ctx context.Context, d *Draft) (*Bill, error) {
	if err := s.checkDraft(d); err != nil {
		return nil, err
	}
	if d.Tender.Mode == "" {
		d.Tender.Mode = ModeCash
	}
	if !d.Tender.Mode.Valid() {
		return nil, invalid(ErrInvalidMode, "%q", d.Tender.Mode)
	}
	total := Total(d.Services)
	if err := ValidateInitialPay(total, d.Pay); err != nil {
		return nil, err
	}

	b, err := s.repo.CreateBill(ctx, d)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("bill_id", b.ID).
		Str("total", FormatMoney(total)).
		Str("pay", FormatMoney(d.Pay)).
		Msg("bill created")
	return b, nil
}

// UpdateBill edits patient details and service lines. Payments are not
// touched.
func (s *Service) UpdateBill(ctx context.Context, id string, d *Draft) (View, error) {
	if err := s.checkDraft(d); err != nil {
		return View{}, err
	}
	if err := s.repo.UpdateBill(ctx, id, d); err != nil {
		return View{}, err
	}
	s.logger.Info().Str("bill_id", id).Str("total", FormatMoney(Total(d.Services))).Msg("bill updated")
	return s.desk.Session(id).Load(ctx)
}

func (s *Service) checkDraft(d *Draft) error {
	d.PatientName = strings.TrimSpace(d.PatientName)
	if d.PatientName == "" {
		return &ValidationError{Err: ErrMissingPatient}
	}
	if len(d.Services) == 0 {
		return &ValidationError{Err: ErrNoServices}
	}
	if d.Date == "" {
		d.Date = Today(s.now())
	}
	return nil
}

func (s *Service) GetBill(ctx context.Context, id string) (View, error) {
	return s.desk.Session(id).Load(ctx)
}

func (s *Service) ListBills(ctx context.Context) ([]*Summary, error) {
	rows, err := s.repo.ListBills(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		r.resolve()
	}
	return rows, nil
}

// DeleteBill removes a bill together with its payments and refunds.
func (s *Service) DeleteBill(ctx context.Context, id string) error {
	if err := s.repo.DeleteBill(ctx, id); err != nil {
		return err
	}
	s.desk.Forget(id)
	s.logger.Info().Str("bill_id", id).Msg("bill deleted")
	return nil
}

// -- Payments, refunds, completion --

func (s *Service) RecordPayment(ctx context.Context, billID string, p Payment) (View, *Payment, error) {
	if p.Date == "" {
		p.Date = Today(s.now())
	}
	p.BillID = billID
	return s.desk.Session(billID).Pay(ctx, p)
}

func (s *Service) IssueRefund(ctx context.Context, billID string, r Refund) (View, *Refund, error) {
	if r.Date == "" {
		r.Date = Today(s.now())
	}
	r.BillID = billID
	return s.desk.Session(billID).Refund(ctx, r)
}

func (s *Service) MarkCompleted(ctx context.Context, billID string) (View, error) {
	return s.desk.Session(billID).MarkCompleted(ctx)
}

// -- Documents --

// Invoice loads a bill for the completion invoice. The invoice stays locked
// until treatment is completed.
func (s *Service) Invoice(ctx context.Context, billID string) (View, error) {
	v, err := s.desk.Session(billID).Load(ctx)
	if err != nil {
		return View{}, err
	}
	if !v.Capabilities.CanDownloadInvoice {
		return v, ErrInvoiceLocked
	}
	return v, nil
}

func (s *Service) Receipt(ctx context.Context, paymentID string) (*ReceiptDoc, error) {
	return s.repo.GetReceipt(ctx, paymentID)
}

// RefundSlip builds the refund slip of one refund on a bill from the bill as
// the billing API has it now.
func (s *Service) RefundSlip(ctx context.Context, billID, refundID string) (*RefundDoc, error) {
	v, err := s.desk.Session(billID).Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range v.Bill.Refunds {
		if r.ID != refundID {
			continue
		}
		return &RefundDoc{
			Refund:      r,
			PatientName: v.Bill.PatientName,
			Bill: ReceiptBill{
				ID:      v.Bill.ID,
				Date:    v.Bill.Date,
				Total:   v.Totals.Total,
				Paid:    v.Totals.Paid,
				Balance: v.Totals.Balance,
			},
		}, nil
	}
	return nil, fmt.Errorf("refund %s on bill %s: %w", refundID, billID, ErrNotFound)
}

// Dashboard returns the collection summary. Net collection is recomputed
// from the payment and refund totals of each period.
func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	d, err := s.repo.DashboardSummary(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range []*Period{&d.Today, &d.Month, &d.Year} {
		p.NetTotal = p.PaymentsTotal.Sub(p.RefundsTotal)
	}
	return d, nil
}
