// Package currency implements the coin ledger: balance, lifetime totals and
// the pending-server-validation flag. Every mutation is one critical section,
// so an affordability check can never be separated from its debit.
package currency

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"nomo/internal/logging"
	"nomo/internal/notify"
	"nomo/internal/persist"
	"nomo/internal/syncqueue"
)

// ErrInvalidAmount is returned when server values are negative or inconsistent.
var ErrInvalidAmount = errors.New("currency: invalid amount")

// SliceName is the persisted record name.
const SliceName = "currency"

// State is the persisted coin ledger.
//
// Balance always equals Adjustment + TotalEarned - TotalSpent. Adjustment is
// the opening or server-granted baseline and is zero for a fresh install.
type State struct {
	Balance                 int64      `json:"balance"`
	TotalEarned             int64      `json:"totalEarned"`
	TotalSpent              int64      `json:"totalSpent"`
	Adjustment              int64      `json:"adjustment"`
	LastServerSync          *time.Time `json:"lastServerSync"`
	PendingServerValidation bool       `json:"pendingServerValidation"`
}

// Validate checks the ledger invariants.
func (s *State) Validate() error {
	if s.Balance < 0 || s.TotalEarned < 0 || s.TotalSpent < 0 {
		return fmt.Errorf("negative field in %+v", *s)
	}
	if s.Balance != s.Adjustment+s.TotalEarned-s.TotalSpent {
		return fmt.Errorf("balance %d != %d + %d - %d", s.Balance, s.Adjustment, s.TotalEarned, s.TotalSpent)
	}
	return nil
}

// Payload is the self-describing body of credit and debit operations.
type Payload struct {
	Amount      int64     `json:"amount"`
	Reason      string    `json:"reason,omitempty"`
	Balance     int64     `json:"balance"`
	TotalEarned int64     `json:"totalEarned"`
	TotalSpent  int64     `json:"totalSpent"`
	At          time.Time `json:"at"`
}

// Ledger owns the currency slice.
type Ledger struct {
	mu    sync.Mutex
	state State

	slice *persist.Slice[State]
	queue syncqueue.Enqueuer
	feed  notify.Feed[State]
	now   func() time.Time

	// outstanding reports whether currency operations are still queued.
	outstanding func() bool
}

// Option configures a Ledger.
type Option func(*options)

type options struct {
	startingBalance int64
	now             func() time.Time
	outstanding     func() bool
}

// WithStartingBalance sets the opening balance of a fresh install.
func WithStartingBalance(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.startingBalance = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithOutstanding keeps the pending flag set after SyncFromServer while fn
// reports currency operations that the server has not seen yet.
func WithOutstanding(fn func() bool) Option {
	return func(o *options) { o.outstanding = fn }
}

// New loads the ledger from store. queue may be nil.
func New(store *persist.Store, queue syncqueue.Enqueuer, opts ...Option) *Ledger {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	l := &Ledger{queue: queue, now: o.now, outstanding: o.outstanding}
	l.slice = persist.NewSlice(store, persist.Schema[State]{
		Slice:   SliceName,
		Version: 1,
		Default: func() State {
			return State{Balance: o.startingBalance, Adjustment: o.startingBalance}
		},
		Validate: func(s *State) error { return s.Validate() },
		Legacy: []persist.LegacySource{
			{Key: "nomo-coins", Decode: decodeLegacy},
		},
	})

	state, outcome := l.slice.Load()
	l.state = state
	logging.Currency("Currency ledger loaded (%s): balance=%d earned=%d spent=%d",
		outcome, state.Balance, state.TotalEarned, state.TotalSpent)
	return l
}

// decodeLegacy converts the unversioned blob older clients kept under
// "nomo-coins", which had no baseline field.
func decodeLegacy(raw []byte) (json.RawMessage, error) {
	var old struct {
		Balance     *int64 `json:"balance"`
		TotalEarned int64  `json:"totalEarned"`
		TotalSpent  int64  `json:"totalSpent"`
	}
	if err := json.Unmarshal(raw, &old); err != nil {
		return nil, err
	}
	if old.Balance == nil {
		return nil, fmt.Errorf("legacy coins blob has no balance")
	}
	return json.Marshal(State{
		Balance:                 *old.Balance,
		TotalEarned:             old.TotalEarned,
		TotalSpent:              old.TotalSpent,
		Adjustment:              *old.Balance - old.TotalEarned + old.TotalSpent,
		PendingServerValidation: true,
	})
}

// State returns a snapshot.
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Balance returns the current balance.
func (l *Ledger) Balance() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Balance
}

// CanAfford reports whether amount could be debited right now.
func (l *Ledger) CanAfford(amount int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return amount > 0 && amount <= l.state.Balance
}

// Pending reports whether local changes await server validation.
func (l *Ledger) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.PendingServerValidation
}

// Subscribe registers fn for every committed change.
func (l *Ledger) Subscribe(fn func(State)) (unsubscribe func()) {
	return l.feed.Subscribe(fn)
}

// Credit adds amount coins. amount <= 0 is a no-op, and so is a credit that
// would overflow the balance or the lifetime earnings.
func (l *Ledger) Credit(amount int64) {
	l.CreditFor(amount, "")
}

// CreditFor is Credit with a reason recorded on the sync operation.
func (l *Ledger) CreditFor(amount int64, reason string) {
	if amount <= 0 {
		return
	}

	l.mu.Lock()
	if amount > math.MaxInt64-max(l.state.Balance, l.state.TotalEarned) {
		balance := l.state.Balance
		l.mu.Unlock()
		logging.CurrencyWarn("Credit %d rejected (%s): would overflow balance=%d", amount, reason, balance)
		return
	}
	l.state.Balance += amount
	l.state.TotalEarned += amount
	l.state.PendingServerValidation = true
	snapshot := l.state
	l.enqueueLocked(syncqueue.KindCredit, amount, reason)
	l.slice.Save(snapshot)
	l.mu.Unlock()

	logging.CurrencyDebug("Credit %d (%s): balance=%d", amount, reason, snapshot.Balance)
	logging.AuditFor(logging.CategoryCurrency).LedgerChange(logging.AuditCredit, amount, snapshot.Balance, reason)
	l.feed.Publish(snapshot)
}

// Debit removes amount coins and reports whether it did. It fails without
// side effects when amount <= 0 or exceeds the balance.
func (l *Ledger) Debit(amount int64) bool {
	return l.DebitFor(amount, "")
}

// DebitFor is Debit with a reason recorded on the sync operation.
func (l *Ledger) DebitFor(amount int64, reason string) bool {
	if amount <= 0 {
		return false
	}

	l.mu.Lock()
	if amount > l.state.Balance {
		balance := l.state.Balance
		l.mu.Unlock()
		logging.CurrencyDebug("Debit %d denied (%s): balance=%d", amount, reason, balance)
		logging.AuditFor(logging.CategoryCurrency).LedgerChange(logging.AuditDebitDenied, amount, balance, reason)
		return false
	}
	l.state.Balance -= amount
	l.state.TotalSpent += amount
	l.state.PendingServerValidation = true
	snapshot := l.state
	l.enqueueLocked(syncqueue.KindDebit, amount, reason)
	l.slice.Save(snapshot)
	l.mu.Unlock()

	logging.CurrencyDebug("Debit %d (%s): balance=%d", amount, reason, snapshot.Balance)
	logging.AuditFor(logging.CategoryCurrency).LedgerChange(logging.AuditDebit, amount, snapshot.Balance, reason)
	l.feed.Publish(snapshot)
	return true
}

// SyncFromServer overwrites the ledger with authoritative values. The server
// always wins. The pending flag is cleared unless currency operations are
// still outstanding (see WithOutstanding).
func (l *Ledger) SyncFromServer(balance, totalEarned, totalSpent int64) error {
	if balance < 0 || totalEarned < 0 || totalSpent < 0 {
		return fmt.Errorf("%w: balance=%d earned=%d spent=%d", ErrInvalidAmount, balance, totalEarned, totalSpent)
	}
	now := l.now()

	l.mu.Lock()
	prev := l.state
	l.state = State{
		Balance:        balance,
		TotalEarned:    totalEarned,
		TotalSpent:     totalSpent,
		Adjustment:     balance - totalEarned + totalSpent,
		LastServerSync: &now,
	}
	if l.outstanding != nil {
		l.state.PendingServerValidation = l.outstanding()
	}
	snapshot := l.state
	l.slice.Save(snapshot)
	l.mu.Unlock()

	if prev.Balance != balance {
		logging.CurrencyWarn("Server overwrote balance %d -> %d", prev.Balance, balance)
		logging.AuditFor(logging.CategoryCurrency).LedgerChange(logging.AuditServerWins, balance-prev.Balance, balance, "sync")
	}
	l.feed.Publish(snapshot)
	return nil
}

func (l *Ledger) enqueueLocked(kind syncqueue.Kind, amount int64, reason string) {
	if l.queue == nil {
		return
	}
	_, err := l.queue.Enqueue(kind, Payload{
		Amount:      amount,
		Reason:      reason,
		Balance:     l.state.Balance,
		TotalEarned: l.state.TotalEarned,
		TotalSpent:  l.state.TotalSpent,
		At:          l.now().UTC(),
	})
	if err != nil {
		logging.CurrencyWarn("Failed to enqueue %s: %v", kind, err)
	}
}
