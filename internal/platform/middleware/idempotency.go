package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	idempotencyKeyMaxLen = 128
)

type idemState int

const (
	idemNew idemState = iota
	idemReplay
	idemMismatch
	idemPending
)

type idemEntry struct {
	hash        string
	status      int
	contentType string
	body        []byte
	expires     time.Time
}

// IdempotencyStore remembers the responses of mutating requests by their
// Idempotency-Key. Entries live in memory for ttl.
type IdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*idemEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{entries: make(map[string]*idemEntry), ttl: ttl, now: time.Now}
}

// begin claims key for a request with the given hash, or reports what is
// already stored under it.
func (s *IdempotencyStore) begin(key, hash string) (idemState, idemEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
	e, ok := s.entries[key]
	switch {
	case !ok:
		s.entries[key] = &idemEntry{hash: hash, expires: now.Add(s.ttl)}
		return idemNew, idemEntry{}
	case e.hash != hash:
		return idemMismatch, idemEntry{}
	case e.status == 0:
		return idemPending, idemEntry{}
	default:
		return idemReplay, *e
	}
}

func (s *IdempotencyStore) complete(key string, status int, contentType string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.status = status
		e.contentType = contentType
		e.body = body
	}
}

// abandon releases a claimed key so the client may retry it.
func (s *IdempotencyStore) abandon(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Idempotency replays the stored response when a POST, PUT, PATCH or DELETE
// is repeated with the same Idempotency-Key and body, so a double-submitted
// payment is recorded once. Reusing a key for a different request, or while
// the first one is still running, is a 409. Only successful responses are
// stored.
func Idempotency(store *IdempotencyStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			switch req.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			default:
				return next(c)
			}

			key := strings.TrimSpace(req.Header.Get(IdempotencyKeyHeader))
			if key == "" {
				return next(c)
			}
			if len(key) > idempotencyKeyMaxLen {
				return echo.NewHTTPError(http.StatusBadRequest, "Idempotency-Key too long")
			}

			var body []byte
			if req.Body != nil {
				b, err := io.ReadAll(req.Body)
				if err != nil {
					return err
				}
				body = b
				req.Body = io.NopCloser(bytes.NewReader(body))
			}

			h := sha256.New()
			h.Write([]byte(req.Method))
			h.Write([]byte{'\n'})
			h.Write([]byte(req.URL.RequestURI()))
			h.Write([]byte{'\n'})
			h.Write(body)
			hash := hex.EncodeToString(h.Sum(nil))

			state, stored := store.begin(key, hash)
			switch state {
			case idemMismatch:
				return echo.NewHTTPError(http.StatusConflict, "Idempotency-Key reuse with different request")
			case idemPending:
				return echo.NewHTTPError(http.StatusConflict, "request with this Idempotency-Key is still in progress")
			case idemReplay:
				c.Response().Header().Set("Idempotent-Replayed", "true")
				return c.Blob(stored.status, stored.contentType, stored.body)
			}

			res := c.Response()
			capture := &captureWriter{ResponseWriter: res.Writer}
			res.Writer = capture
			err := next(c)
			res.Writer = capture.ResponseWriter

			if err != nil || res.Status >= http.StatusBadRequest {
				store.abandon(key)
				return err
			}
			store.complete(key, res.Status, res.Header().Get(echo.HeaderContentType), capture.buf.Bytes())
			return nil
		}
	}
}

// captureWriter copies everything written to the client.
type captureWriter struct {
	http.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}
