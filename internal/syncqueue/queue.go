// Package syncqueue is the durable queue of optimistic mutations awaiting
// settlement by the remote authority. Delivery is at-least-once: every entry
// carries a locally generated id the server deduplicates on.
package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"nomo/internal/logging"
	"nomo/internal/notify"
	"nomo/internal/persist"
	"nomo/internal/remote"
)

// SliceName is the persisted record name.
const SliceName = "sync-queue"

// Entry is one pending operation.
type Entry struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
	RetryCount  int             `json:"retryCount"`
	LastRetryAt *time.Time      `json:"lastRetryAt"`
	LastError   string          `json:"lastError,omitempty"`
	Priority    int             `json:"priority"`
	Seq         uint64          `json:"seq"`
}

// State is the persisted queue.
type State struct {
	Entries     []Entry    `json:"entries"`
	TotalSynced int64      `json:"totalSynced"`
	TotalFailed int64      `json:"totalFailed"`
	NextSeq     uint64     `json:"nextSeq"`
	LastDrainAt *time.Time `json:"lastDrainAt"`
}

// Stats summarizes the queue for the pending-changes indicator.
type Stats struct {
	Pending     int
	Retrying    int
	TotalSynced int64
	TotalFailed int64
	Oldest      *time.Time
	LastDrainAt *time.Time
}

// DrainReport describes one drain pass.
type DrainReport struct {
	Skipped  string // "offline" or "busy" when the pass did not run
	Attempts int
	Synced   int
	Retried  int
	Purged   int
	Deferred int // entries still inside their backoff window
}

// Config tunes retries and pacing.
type Config struct {
	MaxRetry       int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	RatePerSecond  float64
	Burst          int
	Priorities     map[Kind]int
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxRetry:       5,
		BaseDelay:      2 * time.Second,
		MaxDelay:       5 * time.Minute,
		AttemptTimeout: 10 * time.Second,
		RatePerSecond:  5,
		Burst:          5,
		Priorities: map[Kind]int{
			KindPurchase: 30,
			KindDebit:    30,
			KindCredit:   20,
			KindXP:       10,
			KindStreak:   10,
		},
	}
}

// SettleFunc is called after the authority accepts an entry.
type SettleFunc func(Entry, remote.Verdict)

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithOnline sets the connectivity gate consulted before and during a drain.
func WithOnline(online func() bool) Option {
	return func(q *Queue) { q.online = online }
}

// WithSettle registers the callback run for accepted entries.
func WithSettle(fn SettleFunc) Option {
	return func(q *Queue) { q.settle = fn }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue owns the sync-queue slice.
type Queue struct {
	mu    sync.Mutex
	state State

	cfg       Config
	authority remote.Authority
	limiter   *rate.Limiter
	draining  atomic.Bool

	online  func() bool
	settle  SettleFunc
	metrics *Metrics
	now     func() time.Time
	dropped int // malformed entries removed while loading

	slice *persist.Slice[State]
	feed  notify.Feed[Stats]
}

// New loads the queue from store and purges entries that already exhausted
// their retries in an earlier run.
func New(store *persist.Store, authority remote.Authority, cfg Config, opts ...Option) *Queue {
	def := DefaultConfig()
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = def.MaxRetry
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.BaseDelay)
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.Priorities == nil {
		cfg.Priorities = def.Priorities
	}
	if authority == nil {
		authority = remote.Offline{}
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	q := &Queue{
		cfg:       cfg,
		authority: authority,
		limiter:   rate.NewLimiter(limit, burst),
		online:    func() bool { return true },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}

	q.slice = persist.NewSlice(store, persist.Schema[State]{
		Slice:    SliceName,
		Version:  1,
		Default:  func() State { return State{} },
		Validate: q.normalize,
	})

	state, outcome := q.slice.Load()
	q.state = state
	q.rehydrate()
	logging.Sync("Sync queue loaded (%s): pending=%d synced=%d failed=%d",
		outcome, len(q.state.Entries), q.state.TotalSynced, q.state.TotalFailed)
	return q
}

// normalize drops entries that cannot be submitted. Each dropped entry counts
// as failed so nothing leaves the queue unaccounted for.
func (q *Queue) normalize(s *State) error {
	if s.TotalSynced < 0 || s.TotalFailed < 0 {
		return fmt.Errorf("negative counters synced=%d failed=%d", s.TotalSynced, s.TotalFailed)
	}
	seen := make(map[string]bool, len(s.Entries))
	kept := s.Entries[:0]
	for _, e := range s.Entries {
		if e.ID == "" || e.Kind == "" || seen[e.ID] || e.RetryCount < 0 || !json.Valid(e.Payload) {
			logging.SyncWarn("Dropping malformed queue entry %q (%s)", e.ID, e.Kind)
			s.TotalFailed++
			q.dropped++
			continue
		}
		seen[e.ID] = true
		if e.Seq >= s.NextSeq {
			s.NextSeq = e.Seq + 1
		}
		kept = append(kept, e)
	}
	s.Entries = kept
	sortEntries(s.Entries)
	return nil
}

// rehydrate purges entries at or past MaxRetry before any drain can see them.
func (q *Queue) rehydrate() {
	q.mu.Lock()
	var purged []Entry
	kept := q.state.Entries[:0]
	for _, e := range q.state.Entries {
		if e.RetryCount >= q.cfg.MaxRetry {
			purged = append(purged, e)
			continue
		}
		kept = append(kept, e)
	}
	q.state.Entries = kept
	q.state.TotalFailed += int64(len(purged))
	if len(purged) > 0 || q.dropped > 0 {
		q.slice.Save(q.state)
	}
	pending := len(q.state.Entries)
	q.mu.Unlock()

	for _, e := range purged {
		q.recordPurge(e, "retries exhausted before restart")
	}
	q.metrics.setPending(pending)
}

// sortEntries orders by priority desc, then creation time, then insertion.
func sortEntries(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
}

// Enqueue stores a copy of payload as a new operation.
func (q *Queue) Enqueue(kind Kind, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	q.mu.Lock()
	e := Entry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   data,
		CreatedAt: q.now().UTC(),
		Priority:  q.cfg.Priorities[kind],
		Seq:       q.state.NextSeq,
	}
	q.state.NextSeq++
	q.state.Entries = append(q.state.Entries, e)
	sortEntries(q.state.Entries)
	q.slice.Save(q.state)
	stats := q.statsLocked()
	q.mu.Unlock()

	logging.SyncDebug("Enqueued %s %s (priority %d)", kind, e.ID, e.Priority)
	q.metrics.recordEnqueue(kind)
	q.metrics.setPending(stats.Pending)
	q.feed.Publish(stats)
	return e.ID, nil
}

// Entries returns the queued entries in drain order.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.state.Entries))
	for i, e := range q.state.Entries {
		e.Payload = slices.Clone(e.Payload)
		out[i] = e
	}
	return out
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.state.Entries)
}

// Count returns how many queued entries carry one of kinds.
func (q *Queue) Count(kinds ...Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.state.Entries {
		if slices.Contains(kinds, e.Kind) {
			n++
		}
	}
	return n
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() Stats {
	s := Stats{
		Pending:     len(q.state.Entries),
		TotalSynced: q.state.TotalSynced,
		TotalFailed: q.state.TotalFailed,
		LastDrainAt: q.state.LastDrainAt,
	}
	for _, e := range q.state.Entries {
		if e.RetryCount > 0 {
			s.Retrying++
		}
		if s.Oldest == nil || e.CreatedAt.Before(*s.Oldest) {
			created := e.CreatedAt
			s.Oldest = &created
		}
	}
	return s
}

// Subscribe registers fn for stats changes.
func (q *Queue) Subscribe(fn func(Stats)) (unsubscribe func()) {
	return q.feed.Subscribe(fn)
}

// Backoff returns the wait after the n-th failed attempt: base*2^(n-1),
// capped at the configured maximum.
func (q *Queue) Backoff(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	d := q.cfg.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= q.cfg.MaxDelay {
			return q.cfg.MaxDelay
		}
	}
	return min(d, q.cfg.MaxDelay)
}

func (q *Queue) due(e Entry, now time.Time) bool {
	if e.LastRetryAt == nil {
		return true
	}
	return !now.Before(e.LastRetryAt.Add(q.Backoff(e.RetryCount)))
}

// Drain submits every due entry in order. It does nothing while offline or
// while another drain is running.
func (q *Queue) Drain(ctx context.Context) DrainReport {
	return q.drain(ctx, false)
}

// Flush drains every retryable entry, ignoring backoff windows.
func (q *Queue) Flush(ctx context.Context) DrainReport {
	return q.drain(ctx, true)
}

func (q *Queue) drain(ctx context.Context, force bool) DrainReport {
	var report DrainReport
	if !q.online() {
		report.Skipped = "offline"
		return report
	}
	if !q.draining.CompareAndSwap(false, true) {
		report.Skipped = "busy"
		return report
	}
	defer q.draining.Store(false)

	timer := logging.StartTimer(logging.CategorySync, "Drain")
	defer timer.Stop()

	now := q.now()
	q.mu.Lock()
	batch := make([]Entry, 0, len(q.state.Entries))
	for _, e := range q.state.Entries {
		if e.RetryCount >= q.cfg.MaxRetry {
			continue
		}
		if !force && !q.due(e, now) {
			report.Deferred++
			continue
		}
		batch = append(batch, e)
	}
	q.mu.Unlock()

	for _, e := range batch {
		if ctx.Err() != nil || !q.online() {
			break
		}
		if err := q.limiter.Wait(ctx); err != nil {
			break
		}

		report.Attempts++
		verdict, err := q.submit(ctx, e)
		if err != nil && ctx.Err() != nil {
			// Shutdown, not a failed attempt.
			report.Attempts--
			break
		}

		switch q.resolve(e, verdict, err) {
		case outcomeSynced:
			report.Synced++
		case outcomeRetry:
			report.Retried++
		case outcomePurged:
			report.Purged++
		}
	}

	q.mu.Lock()
	drained := q.now().UTC()
	q.state.LastDrainAt = &drained
	q.slice.Save(q.state)
	stats := q.statsLocked()
	q.mu.Unlock()

	q.metrics.setPending(stats.Pending)
	q.feed.Publish(stats)
	if report.Attempts > 0 {
		logging.Sync("Drain finished: attempts=%d synced=%d retried=%d purged=%d deferred=%d pending=%d",
			report.Attempts, report.Synced, report.Retried, report.Purged, report.Deferred, stats.Pending)
	}
	return report
}

func (q *Queue) submit(ctx context.Context, e Entry) (remote.Verdict, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, q.cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	verdict, err := q.authority.Submit(attemptCtx, remote.Submission{
		OperationID: e.ID,
		Kind:        string(e.Kind),
		Payload:     e.Payload,
	})
	result := "accepted"
	switch {
	case err != nil:
		result = "error"
	case !verdict.Accepted:
		result = "rejected"
	}
	q.metrics.observeSubmit(result, time.Since(start).Seconds())
	return verdict, err
}

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeRetry
	outcomePurged
	outcomeGone
)

// resolve applies the result of one submission to the stored entry.
func (q *Queue) resolve(e Entry, verdict remote.Verdict, err error) outcome {
	q.mu.Lock()
	idx := slices.IndexFunc(q.state.Entries, func(x Entry) bool { return x.ID == e.ID })
	if idx < 0 {
		q.mu.Unlock()
		return outcomeGone
	}

	if err == nil && verdict.Accepted {
		q.state.Entries = slices.Delete(q.state.Entries, idx, idx+1)
		q.state.TotalSynced++
		q.slice.Save(q.state)
		q.mu.Unlock()

		logging.SyncDebug("Settled %s %s", e.Kind, e.ID)
		logging.AuditFor(logging.CategorySync).SyncOutcome(logging.AuditSettled, e.ID, string(e.Kind), e.RetryCount, "")
		q.metrics.recordSynced(e.Kind)
		if q.settle != nil {
			q.settle(e, verdict)
		}
		return outcomeSynced
	}

	reason := verdict.Reason
	if err != nil {
		reason = err.Error()
	}
	now := q.now().UTC()
	entry := &q.state.Entries[idx]
	entry.RetryCount++
	entry.LastRetryAt = &now
	entry.LastError = reason
	updated := *entry

	if updated.RetryCount >= q.cfg.MaxRetry {
		q.state.Entries = slices.Delete(q.state.Entries, idx, idx+1)
		q.state.TotalFailed++
		q.slice.Save(q.state)
		q.mu.Unlock()

		q.recordPurge(updated, reason)
		return outcomePurged
	}
	q.slice.Save(q.state)
	q.mu.Unlock()

	logging.SyncDebug("Attempt %d/%d for %s %s failed: %s (next in %s)",
		updated.RetryCount, q.cfg.MaxRetry, e.Kind, e.ID, reason, q.Backoff(updated.RetryCount))
	logging.AuditFor(logging.CategorySync).SyncOutcome(logging.AuditSyncRetry, e.ID, string(e.Kind), updated.RetryCount, reason)
	q.metrics.recordRetry(e.Kind)
	return outcomeRetry
}

func (q *Queue) recordPurge(e Entry, reason string) {
	logging.SyncWarn("Purged %s %s after %d attempts: %s", e.Kind, e.ID, e.RetryCount, reason)
	logging.AuditFor(logging.CategorySync).SyncOutcome(logging.AuditSyncPurged, e.ID, string(e.Kind), e.RetryCount, reason)
	q.metrics.recordPurged(e.Kind)
}
