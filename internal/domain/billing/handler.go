package billing

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/clinic/billdesk/pkg/pagination"
)

type Handler struct {
	svc         *Service
	clinic      Clinic
	defaultRate string
}

// NewHandler creates the desk handler. defaultRate prices the first row of a
// new bill form.
func NewHandler(svc *Service, clinic Clinic, defaultRate string) *Handler {
	return &Handler{svc: svc, clinic: clinic, defaultRate: defaultRate}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/bills", h.ListBills)
	api.POST("/bills", h.CreateBill)
	api.GET("/bills/:id", h.GetBill)
	api.PUT("/bills/:id", h.UpdateBill)
	api.DELETE("/bills/:id", h.DeleteBill)

	// Service line forms
	api.GET("/bill-form", h.NewForm)
	api.POST("/bill-form/total", h.FormTotal)
	api.GET("/bills/:id/form", h.EditForm)

	api.POST("/bills/:id/payments", h.RecordPayment)
	api.POST("/bills/:id/refunds", h.IssueRefund)
	api.POST("/bills/:id/complete", h.MarkCompleted)

	// Printable documents
	api.GET("/bills/:id/invoice", h.Invoice)
	api.GET("/payments/:id/receipt", h.Receipt)
	api.GET("/bills/:id/refunds/:refundId/slip", h.RefundSlip)

	api.GET("/dashboard/summary", h.Dashboard)
}

// -- Bills --

func (h *Handler) ListBills(c echo.Context) error {
	pg := pagination.FromContext(c)
	rows, err := h.svc.ListBills(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	resp := pagination.NewResponse(pagination.Window(rows, pg), len(rows), pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Request().URL.Path, len(rows))
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateBill(c echo.Context) error {
	var req BillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return httpError(err)
	}
	b, err := h.svc.CreateBill(c.Request().Context(), req.Draft())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBill(c echo.Context) error {
	v, err := h.svc.GetBill(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) UpdateBill(c echo.Context) error {
	var req BillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return httpError(err)
	}
	v, err := h.svc.UpdateBill(c.Request().Context(), c.Param("id"), req.Draft())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) DeleteBill(c echo.Context) error {
	if err := h.svc.DeleteBill(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Forms --

func (h *Handler) NewForm(c echo.Context) error {
	return c.JSON(http.StatusOK, NewLineForm(h.defaultRate).View())
}

func (h *Handler) EditForm(c echo.Context) error {
	v, err := h.svc.GetBill(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, LineFormFrom(v.Bill.Services).View())
}

// FormTotal prices the rows of a form being edited.
func (h *Handler) FormTotal(c echo.Context) error {
	var req struct {
		Rows []LineRow `json:"rows"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, RowsView(req.Rows))
}

// -- Payments, refunds, completion --

func (h *Handler) RecordPayment(c echo.Context) error {
	var req PaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return httpError(err)
	}
	v, p, err := h.svc.RecordPayment(c.Request().Context(), c.Param("id"), req.Payment())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"payment": p, "view": v})
}

func (h *Handler) IssueRefund(c echo.Context) error {
	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return httpError(err)
	}
	v, r, err := h.svc.IssueRefund(c.Request().Context(), c.Param("id"), req.Refund())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"refund": r, "view": v})
}

func (h *Handler) MarkCompleted(c echo.Context) error {
	v, err := h.svc.MarkCompleted(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

// -- Documents --

func (h *Handler) Invoice(c echo.Context) error {
	v, err := h.svc.Invoice(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	var buf bytes.Buffer
	if err := RenderInvoice(&buf, h.clinic, v); err != nil {
		return httpError(err)
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func (h *Handler) Receipt(c echo.Context) error {
	doc, err := h.svc.Receipt(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	var buf bytes.Buffer
	if err := RenderReceipt(&buf, h.clinic, doc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func (h *Handler) RefundSlip(c echo.Context) error {
	doc, err := h.svc.RefundSlip(c.Request().Context(), c.Param("id"), c.Param("refundId"))
	if err != nil {
		return httpError(err)
	}
	var buf bytes.Buffer
	if err := RenderRefundSlip(&buf, h.clinic, doc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func (h *Handler) Dashboard(c echo.Context) error {
	d, err := h.svc.Dashboard(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

// httpError maps service errors onto status codes. Anything the desk did
// not reject itself came from the billing API.
func httpError(err error) *echo.HTTPError {
	var verr *ValidationError
	var ferr validator.ValidationErrors
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, verr.Error())
	case errors.As(err, &ferr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, fieldErrors(ferr))
	case errors.Is(err, ErrActionInFlight), errors.Is(err, ErrInvoiceLocked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}

func fieldErrors(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
