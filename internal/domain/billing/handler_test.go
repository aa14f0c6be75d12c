package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	h := NewHandler(env.svc, Clinic{Name: "Smile Dental Clinic", Address: "12 MG Road"}, "500")
	return h, env, echo.New()
}

func jsonContext(e *echo.Echo, method, body string, id string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if id != "" {
		c.SetParamNames("id")
		c.SetParamValues(id)
	}
	return c, rec
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError with %d, got %v", code, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
}

// -- Bill Handler Tests --

func TestHandler_CreateBill(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"patientName":"Asha Rao","sex":"F","age":"34","date":"2024-03-05",
		"services":[{"item":"Consultation","qty":1,"rate":"500"},{"item":"Scaling","qty":"2","rate":250}],
		"pay":200,"payment":{"mode":"UPI","upiId":"asha@upi","upiDate":"2024-03-05"}}`
	c, rec := jsonContext(e, http.MethodPost, body, "")

	if err := h.CreateBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var b Bill
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(b.Services) != 2 || len(b.Payments) != 1 {
		t.Fatalf("unexpected bill: %+v", b)
	}
	if b.Payments[0].Mode != ModeUPI || b.Payments[0].UPIID != "asha@upi" {
		t.Errorf("unexpected initial payment: %+v", b.Payments[0])
	}
}

func TestHandler_CreateBill_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing patient", `{"patientName":"","services":[{"item":"A","qty":1,"rate":1}]}`},
		{"no services", `{"patientName":"Asha","services":[]}`},
		{"bad date", `{"patientName":"Asha","date":"05/03/2024","services":[{"item":"A","qty":1,"rate":1}]}`},
		{"cheque without number", `{"patientName":"Asha","services":[{"item":"A","qty":1,"rate":100}],"pay":50,"payment":{"mode":"Cheque"}}`},
		{"unknown mode", `{"patientName":"Asha","services":[{"item":"A","qty":1,"rate":100}],"payment":{"mode":"Barter"}}`},
		{"pay over total", `{"patientName":"Asha","services":[{"item":"A","qty":1,"rate":100}],"pay":150}`},
		{"negative pay", `{"patientName":"Asha","services":[{"item":"A","qty":1,"rate":100}],"pay":-50}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, env, e := newTestHandler()
			c, _ := jsonContext(e, http.MethodPost, tt.body, "")
			expectStatus(t, h.CreateBill(c), http.StatusUnprocessableEntity)
			if env.repo.count("CreateBill") != 0 {
				t.Error("expected no call to the billing API")
			}
		})
	}
}

func TestHandler_CreateBill_BadJSON(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodPost, `{"patientName":`, "")
	expectStatus(t, h.CreateBill(c), http.StatusBadRequest)
}

func TestHandler_GetBill(t *testing.T) {
	h, env, e := newTestHandler()
	seedBill(env.repo, "1", "1000", "400")
	c, rec := jsonContext(e, http.MethodGet, "", "1")

	if err := h.GetBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var v struct {
		Status       Status       `json:"status"`
		Capabilities Capabilities `json:"capabilities"`
		Display      Display      `json:"display"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Status != StatusPending || !v.Capabilities.CanPay || v.Display.Balance != "₹ 600.00" {
		t.Errorf("unexpected view: %+v", v)
	}
}

func TestHandler_GetBill_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodGet, "", "404")
	expectStatus(t, h.GetBill(c), http.StatusNotFound)
}

func TestHandler_GetBill_Upstream(t *testing.T) {
	h, env, e := newTestHandler()
	env.repo.getErr = errors.New("billing API: 500 internal error")
	c, _ := jsonContext(e, http.MethodGet, "", "1")
	expectStatus(t, h.GetBill(c), http.StatusBadGateway)
}

func TestHandler_UpdateBill(t *testing.T) {
	h, env, e := newTestHandler()
	seedBill(env.repo, "1", "1000", "400")
	body := `{"patientName":"Asha R.","services":[{"item":"Root canal","qty":1,"rate":3000}]}`
	c, rec := jsonContext(e, http.MethodPut, body, "1")

	if err := h.UpdateBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"patientName":"Asha R."`) {
		t.Errorf("expected updated bill in response, got %s", rec.Body.String())
	}
}

func TestHandler_DeleteBill(t *testing.T) {
	h, env, e := newTestHandler()
	seedBill(env.repo, "1", "1000")
	c, rec := jsonContext(e, http.MethodDelete, "", "1")

	if err := h.DeleteBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_ListBills(t *testing.T) {
	h, env, e := newTestHandler()
	for _, id := range []string{"1", "2", "3"} {
		seedBill(env.repo, id, "1000")
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bills?limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListBills(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []Summary `json:"data"`
		Total   int       `json:"total"`
		HasMore bool      `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 || resp.Total != 3 || !resp.HasMore {
		t.Errorf("unexpected page: %d rows of %d, has_more=%v", len(resp.Data), resp.Total, resp.HasMore)
	}
}

// -- Payment Handler Tests --

func TestHandler_RecordPayment(t *testing.T) {
	h, env, e := newTestHandler()
	seedBill(env.repo, "1", "1000", "400")
	body := `{"amount":"600","mode":"Cheque","chequeNumber":"004512","chequeDate":"2024-03-05","bankName":"SBI"}`
	c, rec := jsonContext(e, http.MethodPost, body, "1")

	if err := h.RecordPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"receiptNo":"R-0001"`) {
		t.Errorf("expected receipt number, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"Paid in Full"`) {
		t.Errorf("expected Paid in Full, got %s", rec.Body.String())
	}
}

func TestHandler_RecordPayment_ReloadFails(t *testing.T) {
	h, env, e := newTestHandler()
	seedBill(env.repo, "1", "1000", "400")
	env.repo.getHook = func(call int) error {
		if call == 2 {
			return errors.New("timeout")
		}
		return nil
	}
	c, rec := jsonContext(e, http.MethodPost, `{"amount":600,"mode":"Cash"}`, "1")

	if err := h.RecordPayment(c); err != nil {
		t.Fatalf("expected a recorded payment to succeed, got %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, _ = jsonContext(e, http.MethodPost, `{"amount":600,"mode":"Cash"}`, "1")
	expectStatus(t, h.RecordPayment(c), http.StatusUnprocessableEntity)
	if env.repo.count("AddPayment") != 1 {
		t.Errorf("expected one payment, got %d", env.repo.count("AddPayment"))
	}
}

func TestHandler_RecordPayment_OverBalance(t *testing.T) {
	h, env, e := newTestHandler()
	seedBill(env.repo, "1", "1000", "400")
	c, _ := jsonContext(e, http.MethodPost, `{"amount":700,"mode":"Cash"}`, "1")

	expectStatus(t, h.RecordPayment(c), http.StatusUnprocessableEntity)
	if env.repo.count("AddPayment") != 0 {
		t.Error("expected no call to the billing API")
	}
}

func TestHandler_RecordPayment_InFlight(t *testing.T) {
	h, env, e := newTestHandler()
	seedBill(env.repo, "1", "1000")
	s := env.svc.Desk().Session("1")
	if err := s.begin(ActionPay); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.end(ActionPay)

	c, _ := jsonContext(e, http.MethodPost, `{"amount":100,"mode":"Cash"}`, "1")
	expectStatus(t, h.RecordPayment(c), http.StatusConflict)
}

func TestHandler_IssueRefund(t *testing.T) {
	h, env, e := newTestHandler()
	seedBill(env.repo, "1", "1000", "1000")
	c, rec := jsonContext(e, http.MethodPost, `{"amount":300,"mode":"BankTransfer","transferType":"NEFT","transferDate":"2024-03-05"}`, "1")

	if err := h.IssueRefund(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"refundNo":"RF-0001"`) {
		t.Errorf("expected refund number, got %s", rec.Body.String())
	}
}

func TestHandler_IssueRefund_BadTransferType(t *testing.T) {
	h, env, e := newTestHandler()
	seedBill(env.repo, "1", "1000", "1000")
	c, _ := jsonContext(e, http.MethodPost, `{"amount":300,"mode":"BankTransfer","transferType":"SWIFT"}`, "1")
	expectStatus(t, h.IssueRefund(c), http.StatusUnprocessableEntity)
}

// -- Completion and Document Handler Tests --

func TestHandler_MarkCompletedAndInvoice(t *testing.T) {
	h, env, e := newTestHandler()
	seedBill(env.repo, "1", "1000", "1000")

	c, _ := jsonContext(e, http.MethodGet, "", "1")
	expectStatus(t, h.Invoice(c), http.StatusConflict)

	c, rec := jsonContext(e, http.MethodPost, "", "1")
	if err := h.MarkCompleted(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"Treatment Completed"`) {
		t.Errorf("expected completed view, got %s", rec.Body.String())
	}
	env.sched.fire()

	c, rec = jsonContext(e, http.MethodGet, "", "1")
	if err := h.Invoice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, echo.MIMETextHTML) {
		t.Errorf("expected HTML, got %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"Smile Dental Clinic", "0001", "Asha Rao", "₹ 1000.00", "Treatment Completed"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected invoice to contain %q", want)
		}
	}
}

func TestHandler_Receipt(t *testing.T) {
	h, env, e := newTestHandler()
	seedBill(env.repo, "1", "1000")
	_, p, err := env.svc.RecordPayment(context.Background(), "1", Payment{Amount: dec("250"), Tender: Tender{Mode: ModeCash}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, rec := jsonContext(e, http.MethodGet, "", p.ID)
	if err := h.Receipt(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := rec.Body.String()
	for _, want := range []string{"MONEY RECEIPT", p.ReceiptNo, "₹ 250.00", "₹ 750.00"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected receipt to contain %q", want)
		}
	}
}

func TestHandler_Receipt_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodGet, "", "nope")
	expectStatus(t, h.Receipt(c), http.StatusNotFound)
}

func TestHandler_RefundSlip(t *testing.T) {
	h, env, e := newTestHandler()
	seedBill(env.repo, "1", "1000", "1000")
	_, r, err := env.svc.IssueRefund(context.Background(), "1", Refund{Amount: dec("300"), Tender: Tender{Mode: ModeCash}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, rec := jsonContext(e, http.MethodGet, "", "1")
	c.SetParamNames("id", "refundId")
	c.SetParamValues("1", r.ID)
	if err := h.RefundSlip(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "REFUND SLIP") || !strings.Contains(rec.Body.String(), r.RefundNo) {
		t.Errorf("unexpected slip: %s", rec.Body.String())
	}

	c, _ = jsonContext(e, http.MethodGet, "", "1")
	c.SetParamNames("id", "refundId")
	c.SetParamValues("1", "r404")
	expectStatus(t, h.RefundSlip(c), http.StatusNotFound)
}

func TestHandler_Dashboard(t *testing.T) {
	h, _, e := newTestHandler()
	c, rec := jsonContext(e, http.MethodGet, "", "")

	if err := h.Dashboard(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"netTotal":"1300"`) {
		t.Errorf("expected recomputed net total, got %s", rec.Body.String())
	}
}

func TestHandler_NewForm(t *testing.T) {
	h, _, e := newTestHandler()
	c, rec := jsonContext(e, http.MethodGet, "", "")

	if err := h.NewForm(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v FormView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(v.Rows) != 1 || v.Rows[0].Qty != "1" || v.Rows[0].Rate != "500" {
		t.Errorf("unexpected rows: %+v", v.Rows)
	}
	if v.Total != "500.00" {
		t.Errorf("expected total 500.00, got %s", v.Total)
	}
}

func TestHandler_EditForm(t *testing.T) {
	h, env, e := newTestHandler()
	seedBill(env.repo, "1", "1000")
	c, rec := jsonContext(e, http.MethodGet, "", "1")

	if err := h.EditForm(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v FormView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(v.Rows) != 1 || v.Rows[0].Item != "Treatment" || v.Total != "1000.00" {
		t.Errorf("unexpected form: %+v", v)
	}
}

func TestHandler_FormTotal(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"rows":[{"key":1,"item":"Scaling","qty":"2","rate":"300"},{"key":2,"item":"X-Ray","qty":"abc","rate":"150"},{"key":3,"qty":"1","rate":"99.5"}]}`
	c, rec := jsonContext(e, http.MethodPost, body, "")

	if err := h.FormTotal(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v FormView
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"600.00", "0.00", "99.50"}
	for i, a := range want {
		if v.Amounts[i] != a {
			t.Errorf("row %d: expected %s, got %s", i, a, v.Amounts[i])
		}
	}
	if v.Total != "699.50" {
		t.Errorf("expected total 699.50, got %s", v.Total)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"GET /api/v1/bills":                            false,
		"POST /api/v1/bills":                           false,
		"GET /api/v1/bills/:id":                        false,
		"PUT /api/v1/bills/:id":                        false,
		"DELETE /api/v1/bills/:id":                     false,
		"POST /api/v1/bills/:id/payments":              false,
		"POST /api/v1/bills/:id/refunds":               false,
		"POST /api/v1/bills/:id/complete":              false,
		"GET /api/v1/bills/:id/invoice":                false,
		"GET /api/v1/payments/:id/receipt":             false,
		"GET /api/v1/dashboard/summary":                false,
		"GET /api/v1/bill-form":                        false,
		"POST /api/v1/bill-form/total":                 false,
		"GET /api/v1/bills/:id/form":                   false,
		"GET /api/v1/bills/:id/refunds/:refundId/slip": false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}
