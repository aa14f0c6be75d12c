// Package billingapi is the HTTP client of the clinic billing API, the
// system of record for bills, payments and refunds.
package billingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/clinic/billdesk/internal/domain/billing"
	"github.com/clinic/billdesk/internal/platform/middleware"
)

const (
	DefaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
)

// APIError is a non-2xx answer from the billing API.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("billing API %s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// Is makes a 404 match billing.ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == billing.ErrNotFound && e.Status == http.StatusNotFound
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithObserver reports the outcome and latency of every call to o.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// Observer receives one event per API call. status is 0 when no response
// arrived.
type Observer interface {
	ObserveAPICall(method, route string, status int, d time.Duration)
}

// Client implements billing.BillRepository over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
	observer   Observer
	reads      singleflight.Group
}

var _ billing.BillRepository = (*Client)(nil)

// New creates a client for the API at baseURL. A non-positive timeout falls
// back to DefaultTimeout.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// -- Bills --

func (c *Client) ListBills(ctx context.Context) ([]*billing.Summary, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/bills", nil)
	if err != nil {
		return nil, err
	}
	var rows []wireBill
	if err := json.Unmarshal(raw, &rows); err != nil {
		var env struct {
			Bills []wireBill `json:"bills"`
			Data  []wireBill `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode bill list: %w", err)
		}
		rows = env.Bills
		if rows == nil {
			rows = env.Data
		}
	}
	out := make([]*billing.Summary, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].summary())
	}
	return out, nil
}

// GetBill fetches one bill. Concurrent reads of the same bill share a single
// request. The shared request outlives a caller that gives up; each caller
// still returns as soon as its own ctx is done.
func (c *Client) GetBill(ctx context.Context, id string) (*billing.Bill, error) {
	ch := c.reads.DoChan(id, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		raw, err := c.do(shared, http.MethodGet, "/api/bills/"+url.PathEscape(id), nil)
		if err != nil {
			return nil, err
		}
		w, err := decodeBill(raw)
		if err != nil {
			return nil, fmt.Errorf("decode bill %s: %w", id, err)
		}
		if w.ID == "" {
			w.ID = flexString(id)
		}
		return w.bill(), nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		b := *res.Val.(*billing.Bill)
		return &b, nil
	}
}

func (c *Client) CreateBill(ctx context.Context, d *billing.Draft) (*billing.Bill, error) {
	body := createBody{
		billBody:    newBillBody(d),
		Pay:         billing.NewAmount(d.Pay),
		PaymentMode: d.Tender.Mode,
		tenderBody:  newTenderBody(d.Tender),
	}
	raw, err := c.do(ctx, http.MethodPost, "/api/bills", body)
	if err != nil {
		return nil, err
	}
	w, err := decodeBill(raw)
	if err != nil {
		return nil, fmt.Errorf("decode created bill: %w", err)
	}
	if w.ID == "" {
		return nil, errors.New("billing API returned no id for the created bill")
	}
	// The create endpoint may answer with the id only.
	if w.PatientName == "" {
		return c.GetBill(ctx, string(w.ID))
	}
	return w.bill(), nil
}

func (c *Client) UpdateBill(ctx context.Context, id string, d *billing.Draft) error {
	defer c.reads.Forget(id)
	_, err := c.do(ctx, http.MethodPut, "/api/bills/"+url.PathEscape(id), newBillBody(d))
	return err
}

func (c *Client) DeleteBill(ctx context.Context, id string) error {
	defer c.reads.Forget(id)
	_, err := c.do(ctx, http.MethodDelete, "/api/bills/"+url.PathEscape(id), nil)
	return err
}

// -- Payments, refunds, completion --

func (c *Client) AddPayment(ctx context.Context, billID string, p *billing.Payment) (*billing.Payment, error) {
	defer c.reads.Forget(billID)
	body := moneyBody{Amount: billing.NewAmount(p.Amount), Date: p.Date, tenderBody: newTenderBody(p.Tender)}
	raw, err := c.do(ctx, http.MethodPost, "/api/bills/"+url.PathEscape(billID)+"/payments", body)
	if err != nil {
		return nil, err
	}
	created := *p
	created.BillID = billID
	var env struct {
		Payment *wirePayment `json:"payment"`
	}
	w := &wirePayment{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err == nil && env.Payment != nil {
			w = env.Payment
		} else if err := json.Unmarshal(raw, w); err != nil {
			return nil, fmt.Errorf("decode payment: %w", err)
		}
	}
	if w.ID != "" {
		created.ID = string(w.ID)
	}
	if no := first(w.ReceiptNo, w.ReceiptNumber); no != "" {
		created.ReceiptNo = no
	}
	return &created, nil
}

func (c *Client) AddRefund(ctx context.Context, billID string, r *billing.Refund) (*billing.Refund, error) {
	defer c.reads.Forget(billID)
	body := moneyBody{Amount: billing.NewAmount(r.Amount), Date: r.Date, tenderBody: newTenderBody(r.Tender)}
	raw, err := c.do(ctx, http.MethodPost, "/api/bills/"+url.PathEscape(billID)+"/refunds", body)
	if err != nil {
		return nil, err
	}
	created := *r
	created.BillID = billID
	var env struct {
		Refund *wireRefund `json:"refund"`
	}
	w := &wireRefund{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err == nil && env.Refund != nil {
			w = env.Refund
		} else if err := json.Unmarshal(raw, w); err != nil {
			return nil, fmt.Errorf("decode refund: %w", err)
		}
	}
	if w.ID != "" {
		created.ID = string(w.ID)
	}
	if no := first(w.RefundNo, w.RefundNumber); no != "" {
		created.RefundNo = no
	}
	return &created, nil
}

func (c *Client) MarkCompleted(ctx context.Context, billID string) error {
	defer c.reads.Forget(billID)
	_, err := c.do(ctx, http.MethodPatch, "/api/bills/"+url.PathEscape(billID), map[string]bool{"procedureConfirmed": true})
	return err
}

// -- Documents and reporting --

func (c *Client) GetReceipt(ctx context.Context, paymentID string) (*billing.ReceiptDoc, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}
	var w wireReceipt
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode receipt %s: %w", paymentID, err)
	}
	if w.ID == "" {
		w.ID = flexString(paymentID)
	}
	return w.doc(), nil
}

func (c *Client) DashboardSummary(ctx context.Context) (*billing.Dashboard, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/dashboard/summary", nil)
	if err != nil {
		return nil, err
	}
	var w wireDashboard
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode dashboard: %w", err)
	}
	return &billing.Dashboard{
		Today: w.Today.period(),
		Month: w.Month.period(),
		Year:  w.Year.period(),
	}, nil
}

// -- Transport --

func decodeBill(raw []byte) (*wireBill, error) {
	var env struct {
		Bill *wireBill `json:"bill"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Bill != nil {
		return env.Bill, nil
	}
	var w wireBill
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// do sends one request and returns the response body of a 2xx answer.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if rid := middleware.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set(middleware.RequestIDHeader, rid)
	}
	if method == http.MethodPost {
		req.Header.Set(middleware.IdempotencyKeyHeader, uuid.New().String())
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.observer != nil {
		status := 0
		if err == nil {
			status = resp.StatusCode
		}
		c.observer.ObserveAPICall(method, routeOf(path), status, time.Since(start))
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("billing API unreachable")
		return nil, fmt.Errorf("billing API %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("billing API call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, raw)}
	}
	return raw, nil
}

// routeOf replaces the record id in path with ":id" so metrics stay bounded.
func routeOf(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) > 3 && (parts[2] == "bills" || parts[2] == "payments") {
		parts[3] = ":id"
	}
	return strings.Join(parts, "/")
}

// errorMessage pulls the message out of an error body.
func errorMessage(status int, raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) <= 200 && !strings.HasPrefix(text, "<") {
		return text
	}
	return http.StatusText(status)
}
