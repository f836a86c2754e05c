// Package achievement unlocks threshold achievements by watching ledger
// notifications. It only reads ledger snapshots and never mutates a ledger.
package achievement

import (
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"nomo/internal/currency"
	"nomo/internal/experience"
	"nomo/internal/logging"
	"nomo/internal/notify"
	"nomo/internal/persist"
	"nomo/internal/shop"
	"nomo/internal/streak"
)

// SliceName is the persisted record name.
const SliceName = "achievements"

// Metric is the observed quantity an achievement is measured against.
type Metric string

const (
	MetricPurchases Metric = "purchases"
	MetricStreak    Metric = "streak"
	MetricLevel     Metric = "level"
	MetricEarned    Metric = "earned"
	MetricSessions  Metric = "sessions"
)

// Definition is one threshold achievement.
type Definition struct {
	ID        string
	Name      string
	Metric    Metric
	Threshold int64
}

// State is the persisted record.
type State struct {
	Unlocked map[string]time.Time `json:"unlocked"`
}

// Unlock is published once per achievement.
type Unlock struct {
	Definition Definition
	At         time.Time
}

// Status describes one achievement for display.
type Status struct {
	Definition Definition
	Progress   int64
	Unlocked   bool
	At         time.Time
}

// Tracker evaluates definitions against the latest observed metrics.
type Tracker struct {
	mu       sync.Mutex
	state    State
	defs     []Definition
	progress map[Metric]int64

	slice *persist.Slice[State]
	feed  notify.Feed[Unlock]
	now   func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New validates defs and loads unlocked achievements from store.
func New(store *persist.Store, defs []Definition, opts ...Option) (*Tracker, error) {
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("achievement without id")
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate achievement %q", d.ID)
		}
		seen[d.ID] = true
		switch d.Metric {
		case MetricPurchases, MetricStreak, MetricLevel, MetricEarned, MetricSessions:
		default:
			return nil, fmt.Errorf("achievement %q has unknown metric %q", d.ID, d.Metric)
		}
		if d.Threshold <= 0 {
			return nil, fmt.Errorf("achievement %q needs a positive threshold", d.ID)
		}
	}

	t := &Tracker{
		defs:     append([]Definition(nil), defs...),
		progress: make(map[Metric]int64),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.slice = persist.NewSlice(store, persist.Schema[State]{
		Slice:   SliceName,
		Version: 1,
		Default: func() State { return State{Unlocked: map[string]time.Time{}} },
		Validate: func(s *State) error {
			if s.Unlocked == nil {
				s.Unlocked = map[string]time.Time{}
			}
			return nil
		},
	})
	state, outcome := t.slice.Load()
	t.state = state
	logging.Achievement("Achievements loaded (%s): %d/%d unlocked", outcome, len(state.Unlocked), len(defs))
	return t, nil
}

// Subscribe registers fn for every new unlock.
func (t *Tracker) Subscribe(fn func(Unlock)) (unsubscribe func()) {
	return t.feed.Subscribe(fn)
}

// Observe records the latest value of metric and unlocks every definition it
// now satisfies. Values only ratchet upward.
func (t *Tracker) Observe(metric Metric, value int64) []Unlock {
	t.mu.Lock()
	if value > t.progress[metric] {
		t.progress[metric] = value
	}
	var unlocked []Unlock
	at := t.now().UTC()
	for _, d := range t.defs {
		if d.Metric != metric || t.progress[metric] < d.Threshold {
			continue
		}
		if _, ok := t.state.Unlocked[d.ID]; ok {
			continue
		}
		t.state.Unlocked[d.ID] = at
		unlocked = append(unlocked, Unlock{Definition: d, At: at})
	}
	if len(unlocked) > 0 {
		t.slice.Save(State{Unlocked: maps.Clone(t.state.Unlocked)})
	}
	t.mu.Unlock()

	for _, u := range unlocked {
		logging.Achievement("Unlocked %s (%s >= %d)", u.Definition.ID, metric, u.Definition.Threshold)
		t.feed.Publish(u)
	}
	return unlocked
}

// Sources are the ledgers a tracker can watch. Nil entries are skipped.
type Sources struct {
	Currency   *currency.Ledger
	Experience *experience.Ledger
	Streak     *streak.Tracker
	Shop       *shop.Manager
}

// Attach evaluates the current ledger states and subscribes to their feeds.
// The returned function detaches every subscription.
func (t *Tracker) Attach(src Sources) (detach func()) {
	var unsubs []func()
	if src.Currency != nil {
		t.observeCurrency(src.Currency.State())
		unsubs = append(unsubs, src.Currency.Subscribe(t.observeCurrency))
	}
	if src.Experience != nil {
		t.observeExperience(src.Experience.State())
		unsubs = append(unsubs, src.Experience.Subscribe(t.observeExperience))
	}
	if src.Streak != nil {
		t.observeStreak(src.Streak.State())
		unsubs = append(unsubs, src.Streak.Subscribe(t.observeStreak))
	}
	if src.Shop != nil {
		t.observeInventory(src.Shop.Inventory())
		unsubs = append(unsubs, src.Shop.Subscribe(t.observeInventory))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (t *Tracker) observeCurrency(s currency.State) {
	t.Observe(MetricEarned, s.TotalEarned)
}

func (t *Tracker) observeExperience(s experience.State) {
	t.Observe(MetricLevel, int64(s.CurrentLevel))
}

func (t *Tracker) observeStreak(s streak.State) {
	t.Observe(MetricStreak, int64(s.LongestStreak))
	t.Observe(MetricSessions, int64(s.TotalSessions))
}

func (t *Tracker) observeInventory(inv shop.Inventory) {
	t.Observe(MetricPurchases, int64(inv.PurchaseCount))
}

// Unlocked reports whether id has been unlocked.
func (t *Tracker) Unlocked(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.state.Unlocked[id]
	return ok
}

// Statuses lists every definition, unlocked first, then by id.
func (t *Tracker) Statuses() []Status {
	t.mu.Lock()
	out := make([]Status, 0, len(t.defs))
	for _, d := range t.defs {
		at, ok := t.state.Unlocked[d.ID]
		out = append(out, Status{Definition: d, Progress: t.progress[d.Metric], Unlocked: ok, At: at})
	}
	t.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Unlocked != out[j].Unlocked {
			return out[i].Unlocked
		}
		return out[i].Definition.ID < out[j].Definition.ID
	})
	return out
}
