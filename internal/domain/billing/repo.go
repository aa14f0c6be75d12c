package billing

import (
	"context"
)

// BillRepository is the billing API, the source of truth for bills and the
// generator of receipt and refund numbers.
type BillRepository interface {
	ListBills(ctx context.Context) ([]*Summary, error)
	GetBill(ctx context.Context, id string) (*Bill, error)
	CreateBill(ctx context.Context, d *Draft) (*Bill, error)
	UpdateBill(ctx context.Context, id string, d *Draft) error
	DeleteBill(ctx context.Context, id string) error
	// Payments and refunds
	AddPayment(ctx context.Context, billID string, p *Payment) (*Payment, error)
	AddRefund(ctx context.Context, billID string, r *Refund) (*Refund, error)
	MarkCompleted(ctx context.Context, billID string) error
	// Documents and reporting
	GetReceipt(ctx context.Context, paymentID string) (*ReceiptDoc, error)
	DashboardSummary(ctx context.Context) (*Dashboard, error)
}
