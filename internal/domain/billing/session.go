package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Action names a mutating desk action on a bill.
type Action string

const (
	ActionPay      Action = "pay"
	ActionRefund   Action = "refund"
	ActionComplete Action = "complete"
)

// DefaultReconcileDelay is how long a session waits after an optimistic
// patch before re-reading the bill.
const DefaultReconcileDelay = 500 * time.Millisecond

const reconcileTimeout = 15 * time.Second

type stopper interface {
	Stop() bool
}

type scheduleFunc func(d time.Duration, f func()) stopper

func afterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Session holds the state of one bill as seen by the desk.
//
// Every load and every optimistic patch takes a sequence number; a result is
// only applied if nothing with a higher number has been applied before it.
// The reconciling load scheduled after a patch therefore always replaces the
// patch, and a slow load can never overwrite a newer one.
type Session struct {
	id       string
	repo     BillRepository
	logger   zerolog.Logger
	delay    time.Duration
	schedule scheduleFunc

	mu       sync.Mutex
	current  *View
	seq      uint64
	applied  uint64
	inflight map[Action]bool
	timer    stopper
	timerGen uint64
	closed   bool

	lastUsed time.Time // guarded by Desk.mu
}

func newSession(id string, repo BillRepository, delay time.Duration, schedule scheduleFunc, logger zerolog.Logger) *Session {
	return &Session{
		id:       id,
		repo:     repo,
		logger:   logger.With().Str("bill_id", id).Logger(),
		delay:    delay,
		schedule: schedule,
		inflight: make(map[Action]bool),
	}
}

// ID returns the bill id.
func (s *Session) ID() string { return s.id }

// Load reads the bill from the billing API and derives its view.
func (s *Session) Load(ctx context.Context) (View, error) {
	seq := s.nextSeq()
	b, err := s.repo.GetBill(ctx, s.id)
	if err != nil {
		return View{}, err
	}
	if b == nil {
		return View{}, fmt.Errorf("bill %s: %w", s.id, ErrNotFound)
	}
	return s.apply(seq, NewView(*b)), nil
}

// Snapshot returns the current view without touching the network.
func (s *Session) Snapshot() (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return View{}, false
	}
	return *s.current, true
}

// InFlight reports whether action is being submitted.
func (s *Session) InFlight(action Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[action]
}

// Pay records a payment after checking it against the bill as the billing
// API has it now. A rejected payment never reaches the billing API. On
// success the bill is reloaded so the view carries the server-generated
// receipt number; if that reload fails the recorded payment is patched into
// the view instead and no error is returned.
func (s *Session) Pay(ctx context.Context, p Payment) (View, *Payment, error) {
	if err := s.begin(ActionPay); err != nil {
		return View{}, nil, err
	}
	defer s.end(ActionPay)

	cur, err := s.Load(ctx)
	if err != nil {
		return View{}, nil, err
	}
	if cur.Bill.ProcedureConfirmed {
		return cur, nil, invalid(ErrBillCompleted, "payments are closed for bill %s", cur.Bill.Number())
	}
	if !p.Mode.Valid() {
		return cur, nil, invalid(ErrInvalidMode, "%q", p.Mode)
	}
	if err := ValidatePayment(cur.Totals, p.Amount); err != nil {
		return cur, nil, err
	}

	created, err := s.repo.AddPayment(ctx, s.id, &p)
	if err != nil {
		s.logger.Error().Err(err).Str("amount", FormatMoney(p.Amount)).Msg("payment failed")
		return cur, nil, err
	}
	s.logger.Info().
		Str("amount", FormatMoney(p.Amount)).
		Str("mode", string(p.Mode)).
		Str("receipt_no", created.ReceiptNo).
		Msg("payment recorded")

	v, err := s.Load(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("receipt_no", created.ReceiptNo).Msg("reload after payment failed")
		v = s.patch(func(b *Bill) { b.Payments = append(b.Payments, *created) })
		s.scheduleReconcile()
	}
	return v, created, nil
}

// Refund issues a refund of at most the net amount paid.
func (s *Session) Refund(ctx context.Context, r Refund) (View, *Refund, error) {
	if err := s.begin(ActionRefund); err != nil {
		return View{}, nil, err
	}
	defer s.end(ActionRefund)

	cur, err := s.Load(ctx)
	if err != nil {
		return View{}, nil, err
	}
	if cur.Bill.ProcedureConfirmed {
		return cur, nil, invalid(ErrBillCompleted, "refunds are closed for bill %s", cur.Bill.Number())
	}
	if !r.Mode.Valid() {
		return cur, nil, invalid(ErrInvalidMode, "%q", r.Mode)
	}
	if err := ValidateRefund(cur.Totals, r.Amount); err != nil {
		return cur, nil, err
	}

	created, err := s.repo.AddRefund(ctx, s.id, &r)
	if err != nil {
		s.logger.Error().Err(err).Str("amount", FormatMoney(r.Amount)).Msg("refund failed")
		return cur, nil, err
	}
	s.logger.Info().
		Str("amount", FormatMoney(r.Amount)).
		Str("mode", string(r.Mode)).
		Str("refund_no", created.RefundNo).
		Msg("refund issued")

	v, err := s.Load(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("refund_no", created.RefundNo).Msg("reload after refund failed")
		v = s.patch(func(b *Bill) { b.Refunds = append(b.Refunds, *created) })
		s.scheduleReconcile()
	}
	return v, created, nil
}

// MarkCompleted flags the treatment as completed. The flag is applied to the
// local view straight away, the billing API is told, and a reconciling
// reload is scheduled whatever the outcome of that call. There is no way
// back from completion.
func (s *Session) MarkCompleted(ctx context.Context) (View, error) {
	if err := s.begin(ActionComplete); err != nil {
		return View{}, err
	}
	defer s.end(ActionComplete)

	cur, err := s.Load(ctx)
	if err != nil {
		return View{}, err
	}
	if cur.Bill.ProcedureConfirmed {
		return cur, nil
	}

	patched := s.patch(func(b *Bill) { b.ProcedureConfirmed = true })
	err = s.repo.MarkCompleted(ctx, s.id)
	s.scheduleReconcile()
	if err != nil {
		s.logger.Error().Err(err).Msg("mark completed failed")
		return patched, err
	}
	s.logger.Info().Msg("treatment marked completed")
	return patched, nil
}

// Close stops a pending reconcile.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) begin(action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[action] {
		return ErrActionInFlight
	}
	s.inflight[action] = true
	return nil
}

func (s *Session) end(action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, action)
}

func (s *Session) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Session) apply(seq uint64, v View) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.applied {
		s.current = &v
		s.applied = seq
	}
	return *s.current
}

// patch applies fn to a copy of the current bill and makes the result the
// current, optimistic, view.
func (s *Session) patch(fn func(*Bill)) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	b := s.current.Bill
	fn(&b)
	v := NewView(b)
	v.Optimistic = true
	s.current = &v
	s.applied = s.seq
	return v
}

func (s *Session) scheduleReconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = s.schedule(s.delay, func() { s.reconcile(gen) })
}

func (s *Session) reconcile(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()
	v, err := s.Load(ctx)

	s.mu.Lock()
	if s.timerGen == gen {
		s.timer = nil
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Msg("reconcile failed")
		return
	}
	s.logger.Debug().Str("status", string(v.Status)).Msg("bill reconciled")
}

// idle reports whether nothing is running or scheduled on the session.
func (s *Session) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight) == 0 && s.timer == nil
}

// DefaultSessionIdle is how long an unused session is kept.
const DefaultSessionIdle = 10 * time.Minute

// Desk keeps one Session per bill. Sessions unused for longer than the idle
// period are dropped, unless an action or a reconcile is still pending.
type Desk struct {
	repo     BillRepository
	logger   zerolog.Logger
	delay    time.Duration
	schedule scheduleFunc
	idleTTL  time.Duration
	now      func() time.Time

	mu        sync.Mutex
	sessions  map[string]*Session
	lastSweep time.Time
}

// NewDesk creates a desk. A non-positive delay falls back to
// DefaultReconcileDelay.
func NewDesk(repo BillRepository, reconcileDelay time.Duration, logger zerolog.Logger) *Desk {
	if reconcileDelay <= 0 {
		reconcileDelay = DefaultReconcileDelay
	}
	return &Desk{
		repo:     repo,
		logger:   logger,
		delay:    reconcileDelay,
		schedule: afterFunc,
		idleTTL:  DefaultSessionIdle,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Session returns the session for a bill, creating it on first use.
func (d *Desk) Session(id string) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if now.Sub(d.lastSweep) >= d.idleTTL {
		d.sweep(now)
	}
	s, ok := d.sessions[id]
	if !ok {
		s = newSession(id, d.repo, d.delay, d.schedule, d.logger)
		d.sessions[id] = s
	}
	s.lastUsed = now
	return s
}

// Len returns the number of live sessions.
func (d *Desk) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// sweep drops idle sessions. d.mu must be held.
func (d *Desk) sweep(now time.Time) {
	d.lastSweep = now
	for id, s := range d.sessions {
		if now.Sub(s.lastUsed) >= d.idleTTL && s.idle() {
			delete(d.sessions, id)
		}
	}
}

// Forget closes and drops the session of a bill.
func (d *Desk) Forget(id string) {
	d.mu.Lock()
	s, ok := d.sessions[id]
	delete(d.sessions, id)
	d.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Close stops every pending reconcile.
func (d *Desk) Close() {
	d.mu.Lock()
	sessions := d.sessions
	d.sessions = make(map[string]*Session)
	d.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
