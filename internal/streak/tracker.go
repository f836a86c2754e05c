// Package streak tracks consecutive days with a completed session. Days are
// compared by calendar date in the configured location, never by elapsed
// time.
package streak

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"nomo/internal/logging"
	"nomo/internal/notify"
	"nomo/internal/persist"
	"nomo/internal/syncqueue"
)

// SliceName is the persisted record name.
const SliceName = "streak"

// State is the persisted streak record.
type State struct {
	CurrentStreak   int    `json:"currentStreak"`
	LongestStreak   int    `json:"longestStreak"`
	LastSessionDate string `json:"lastSessionDate"` // YYYY-MM-DD or ""
	TotalSessions   int    `json:"totalSessions"`
	FreezeCount     int    `json:"freezeCount"`
}

func validate(s *State) error {
	if s.CurrentStreak < 0 || s.LongestStreak < 0 || s.TotalSessions < 0 || s.FreezeCount < 0 {
		return fmt.Errorf("negative counter in %+v", *s)
	}
	if _, err := ParseDate(s.LastSessionDate); err != nil {
		return err
	}
	if s.LongestStreak < s.CurrentStreak {
		s.LongestStreak = s.CurrentStreak
	}
	return nil
}

// Milestone is a streak length with a one-time reward.
type Milestone struct {
	Days    int   `json:"days"`
	Coins   int64 `json:"coins"`
	XP      int64 `json:"xp"`
	Freezes int   `json:"freezes"`
}

// DefaultMilestones is the 3/7/14/30/60/100 day table.
var DefaultMilestones = []Milestone{
	{Days: 3, Coins: 25},
	{Days: 7, Coins: 75, Freezes: 1},
	{Days: 14, Coins: 150, XP: 50},
	{Days: 30, Coins: 400, XP: 150, Freezes: 1},
	{Days: 60, Coins: 800, XP: 300, Freezes: 2},
	{Days: 100, Coins: 1500, XP: 600, Freezes: 3},
}

// Transition is the outcome of a validity check.
type Transition int

const (
	NoChange Transition = iota
	FreezeUsed
	Broken
)

func (t Transition) String() string {
	switch t {
	case FreezeUsed:
		return "freeze_used"
	case Broken:
		return "broken"
	}
	return "none"
}

// SessionResult reports what RecordSession did.
type SessionResult struct {
	Recorded   bool
	Streak     int
	Transition Transition
	Milestone  *Milestone // set only when Streak exactly hits a milestone
}

// Payload is the body of streak operations.
type Payload struct {
	Event           string    `json:"event"`
	CurrentStreak   int       `json:"currentStreak"`
	LongestStreak   int       `json:"longestStreak"`
	LastSessionDate string    `json:"lastSessionDate"`
	TotalSessions   int       `json:"totalSessions"`
	FreezeCount     int       `json:"freezeCount"`
	At              time.Time `json:"at"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLocation sets the zone calendar days are taken in.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithMilestones replaces the milestone table.
func WithMilestones(ms []Milestone) Option {
	return func(t *Tracker) {
		t.milestones = append([]Milestone(nil), ms...)
	}
}

// Tracker owns the streak slice.
type Tracker struct {
	mu    sync.Mutex
	state State

	loc        *time.Location
	milestones []Milestone

	slice *persist.Slice[State]
	queue syncqueue.Enqueuer
	feed  notify.Feed[State]
	now   func() time.Time
}

// New loads the tracker from store. queue may be nil.
func New(store *persist.Store, queue syncqueue.Enqueuer, opts ...Option) *Tracker {
	t := &Tracker{
		queue:      queue,
		loc:        time.Local,
		milestones: append([]Milestone(nil), DefaultMilestones...),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	sort.Slice(t.milestones, func(i, j int) bool { return t.milestones[i].Days < t.milestones[j].Days })

	t.slice = persist.NewSlice(store, persist.Schema[State]{
		Slice:    SliceName,
		Version:  1,
		Default:  func() State { return State{} },
		Validate: validate,
		Legacy: []persist.LegacySource{
			{Key: "nomo-streak", Decode: decodeLegacy},
		},
	})

	state, outcome := t.slice.Load()
	t.state = state
	logging.Streak("Streak loaded (%s): current=%d longest=%d last=%q freezes=%d",
		outcome, state.CurrentStreak, state.LongestStreak, state.LastSessionDate, state.FreezeCount)
	return t
}

// decodeLegacy converts the unversioned blob older clients kept under
// "nomo-streak". Its date was a full timestamp and the freeze counter had a
// different name.
func decodeLegacy(raw []byte) (json.RawMessage, error) {
	var old struct {
		CurrentStreak     int    `json:"currentStreak"`
		LongestStreak     int    `json:"longestStreak"`
		LastSessionDate   string `json:"lastSessionDate"`
		TotalSessions     int    `json:"totalSessions"`
		StreakFreezeCount int    `json:"streakFreezeCount"`
	}
	if err := json.Unmarshal(raw, &old); err != nil {
		return nil, err
	}
	date := old.LastSessionDate
	if i := strings.IndexByte(date, 'T'); i > 0 {
		date = date[:i]
	}
	return json.Marshal(State{
		CurrentStreak:   old.CurrentStreak,
		LongestStreak:   old.LongestStreak,
		LastSessionDate: date,
		TotalSessions:   old.TotalSessions,
		FreezeCount:     old.StreakFreezeCount,
	})
}

// State returns a snapshot.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Today returns the current calendar day in the tracker's location.
func (t *Tracker) Today() Date {
	return DateOf(t.now(), t.loc)
}

// Subscribe registers fn for every committed change.
func (t *Tracker) Subscribe(fn func(State)) (unsubscribe func()) {
	return t.feed.Subscribe(fn)
}

// CheckValidity evaluates the streak against today. It runs on cold start and
// whenever the app returns to the foreground.
func (t *Tracker) CheckValidity() Transition {
	today := t.Today()

	t.mu.Lock()
	tr := t.checkLocked(today)
	if tr == NoChange {
		t.mu.Unlock()
		return tr
	}
	snapshot := t.state
	t.enqueueLocked(tr.String())
	t.slice.Save(snapshot)
	t.mu.Unlock()

	t.feed.Publish(snapshot)
	return tr
}

// checkLocked applies the gap rules for day:
//   - same day or the day after the last session: nothing to do
//   - exactly two days with a freeze: spend it, keep the streak, and move the
//     last session to yesterday so the bridged day is not charged again
//   - anything longer: the streak drops to zero
func (t *Tracker) checkLocked(day Date) Transition {
	last, _ := ParseDate(t.state.LastSessionDate)
	if last.IsZero() || t.state.CurrentStreak == 0 {
		return NoChange
	}
	gap := DaysBetween(last, day)
	if gap <= 1 {
		return NoChange
	}
	if gap == 2 && t.state.FreezeCount > 0 {
		t.state.FreezeCount--
		t.state.LastSessionDate = day.AddDays(-1).String()
		logging.Streak("Freeze used to keep %d-day streak (%d left)", t.state.CurrentStreak, t.state.FreezeCount)
		logging.AuditFor(logging.CategoryStreak).Log(logging.AuditEvent{
			EventType: logging.AuditStreak,
			Target:    "freeze_used",
			Amount:    int64(t.state.CurrentStreak),
			Success:   true,
		})
		return FreezeUsed
	}
	logging.Streak("Streak of %d broken after %d days", t.state.CurrentStreak, gap)
	logging.AuditFor(logging.CategoryStreak).Log(logging.AuditEvent{
		EventType: logging.AuditStreak,
		Target:    "broken",
		Amount:    int64(t.state.CurrentStreak),
		Success:   false,
	})
	t.state.CurrentStreak = 0
	return Broken
}

// RecordSession records a completed session today.
func (t *Tracker) RecordSession() SessionResult {
	return t.RecordSessionOn(t.Today())
}

// RecordSessionAt records a session completed at ts.
func (t *Tracker) RecordSessionAt(ts time.Time) SessionResult {
	return t.RecordSessionOn(DateOf(ts, t.loc))
}

// RecordSessionOn records a session on day. A second session on the same day,
// or one older than the last recorded day, is a no-op.
func (t *Tracker) RecordSessionOn(day Date) SessionResult {
	t.mu.Lock()
	last, _ := ParseDate(t.state.LastSessionDate)
	if !last.IsZero() && !last.Before(day) {
		res := SessionResult{Streak: t.state.CurrentStreak}
		t.mu.Unlock()
		return res
	}

	tr := t.checkLocked(day)
	last, _ = ParseDate(t.state.LastSessionDate)
	next := 1
	if t.state.CurrentStreak > 0 && DaysBetween(last, day) == 1 {
		next = t.state.CurrentStreak + 1
	}
	t.state.CurrentStreak = next
	if next > t.state.LongestStreak {
		t.state.LongestStreak = next
	}
	t.state.TotalSessions++
	t.state.LastSessionDate = day.String()

	res := SessionResult{Recorded: true, Streak: next, Transition: tr}
	if m, ok := t.milestoneFor(next); ok {
		res.Milestone = &m
	}
	snapshot := t.state
	t.enqueueLocked("session")
	t.slice.Save(snapshot)
	t.mu.Unlock()

	logging.StreakDebug("Session recorded on %s: streak=%d", day, next)
	if res.Milestone != nil {
		logging.Streak("Milestone reached: %d days", next)
		logging.AuditFor(logging.CategoryStreak).Log(logging.AuditEvent{
			EventType: logging.AuditStreak,
			Target:    "milestone",
			Amount:    int64(next),
			Success:   true,
		})
	}
	t.feed.Publish(snapshot)
	return res
}

func (t *Tracker) milestoneFor(days int) (Milestone, bool) {
	i := sort.Search(len(t.milestones), func(i int) bool { return t.milestones[i].Days >= days })
	if i < len(t.milestones) && t.milestones[i].Days == days {
		return t.milestones[i], true
	}
	return Milestone{}, false
}

// NextMilestone returns the first milestone above the current streak.
func (t *Tracker) NextMilestone() (Milestone, bool) {
	t.mu.Lock()
	current := t.state.CurrentStreak
	t.mu.Unlock()
	for _, m := range t.milestones {
		if m.Days > current {
			return m, true
		}
	}
	return Milestone{}, false
}

// AddFreeze grants n freezes. n <= 0 is a no-op.
func (t *Tracker) AddFreeze(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.state.FreezeCount += n
	snapshot := t.state
	t.enqueueLocked("freeze_added")
	t.slice.Save(snapshot)
	t.mu.Unlock()

	logging.StreakDebug("Added %d freeze(s), now %d", n, snapshot.FreezeCount)
	t.feed.Publish(snapshot)
}

// UseFreeze spends one freeze. It fails without mutation at zero.
func (t *Tracker) UseFreeze() bool {
	t.mu.Lock()
	if t.state.FreezeCount == 0 {
		t.mu.Unlock()
		return false
	}
	t.state.FreezeCount--
	snapshot := t.state
	t.enqueueLocked("freeze_used")
	t.slice.Save(snapshot)
	t.mu.Unlock()

	t.feed.Publish(snapshot)
	return true
}

func (t *Tracker) enqueueLocked(event string) {
	if t.queue == nil {
		return
	}
	_, err := t.queue.Enqueue(syncqueue.KindStreak, Payload{
		Event:           event,
		CurrentStreak:   t.state.CurrentStreak,
		LongestStreak:   t.state.LongestStreak,
		LastSessionDate: t.state.LastSessionDate,
		TotalSessions:   t.state.TotalSessions,
		FreezeCount:     t.state.FreezeCount,
		At:              t.now().UTC(),
	})
	if err != nil {
		logging.Get(logging.CategoryStreak).Warn("Failed to enqueue streak %s: %v", event, err)
	}
}
