package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func idempotentHandler(calls *int) echo.HandlerFunc {
	return func(c echo.Context) error {
		*calls++
		return c.JSON(http.StatusCreated, map[string]int{"call": *calls})
	}
}

func postWithKey(e *echo.Echo, h echo.HandlerFunc, key, body string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bills/7/payments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	e := echo.New()
	calls := 0
	h := Idempotency(NewIdempotencyStore(time.Hour))(idempotentHandler(&calls))

	first, err := postWithKey(e, h, "key-1", `{"amount":100}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := postWithKey(e, h, "key-1", `{"amount":100}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 1 {
		t.Errorf("expected handler to run once, ran %d times", calls)
	}
	if second.Code != http.StatusCreated {
		t.Errorf("expected replayed 201, got %d", second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("expected identical bodies, got %q and %q", first.Body.String(), second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay marker header")
	}
}

func TestIdempotency_KeyReuseWithDifferentBody(t *testing.T) {
	e := echo.New()
	calls := 0
	h := Idempotency(NewIdempotencyStore(time.Hour))(idempotentHandler(&calls))

	if _, err := postWithKey(e, h, "key-1", `{"amount":100}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := postWithKey(e, h, "key-1", `{"amount":200}`)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestIdempotency_PendingKey(t *testing.T) {
	store := NewIdempotencyStore(time.Hour)
	store.begin("key-1", "hash")

	e := echo.New()
	calls := 0
	h := Idempotency(store)(idempotentHandler(&calls))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	req.Header.Set(IdempotencyKeyHeader, "key-1")
	err := h(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
	if calls != 0 {
		t.Error("expected handler not to run")
	}
}

func TestIdempotency_FailureReleasesKey(t *testing.T) {
	e := echo.New()
	calls := 0
	fail := true
	h := Idempotency(NewIdempotencyStore(time.Hour))(func(c echo.Context) error {
		calls++
		if fail {
			return echo.NewHTTPError(http.StatusBadGateway, "billing API down")
		}
		return c.NoContent(http.StatusCreated)
	})

	if _, err := postWithKey(e, h, "key-1", `{}`); err == nil {
		t.Fatal("expected error")
	}
	fail = false
	rec, err := postWithKey(e, h, "key-1", `{}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || rec.Code != http.StatusCreated {
		t.Errorf("expected the retry to run, calls=%d code=%d", calls, rec.Code)
	}
}

func TestIdempotency_SkipsWithoutKeyAndForReads(t *testing.T) {
	e := echo.New()
	calls := 0
	h := Idempotency(NewIdempotencyStore(time.Hour))(idempotentHandler(&calls))

	postWithKey(e, h, "", `{}`)
	postWithKey(e, h, "", `{}`)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(IdempotencyKeyHeader, "key-1")
	h(e.NewContext(req, httptest.NewRecorder()))
	h(e.NewContext(req, httptest.NewRecorder()))

	if calls != 4 {
		t.Errorf("expected every request to run, got %d", calls)
	}
}

func TestIdempotency_KeyTooLong(t *testing.T) {
	e := echo.New()
	calls := 0
	h := Idempotency(NewIdempotencyStore(time.Hour))(idempotentHandler(&calls))

	_, err := postWithKey(e, h, strings.Repeat("k", 200), `{}`)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestIdempotencyStore_Expiry(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.begin("key-1", "hash")
	store.complete("key-1", http.StatusCreated, echo.MIMEApplicationJSON, []byte("{}"))
	if state, _ := store.begin("key-1", "hash"); state != idemReplay {
		t.Fatalf("expected replay, got %v", state)
	}

	now = now.Add(2 * time.Minute)
	if state, _ := store.begin("key-1", "hash"); state != idemNew {
		t.Errorf("expected an expired key to be claimable again, got %v", state)
	}
}
