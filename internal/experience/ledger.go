// Package experience implements the XP ledger. Level is derived from XP on
// every mutation and on every load; it is never trusted from storage.
package experience

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"nomo/internal/logging"
	"nomo/internal/notify"
	"nomo/internal/persist"
	"nomo/internal/syncqueue"
)

// SliceName is the persisted record name.
const SliceName = "experience"

// State is the persisted experience ledger. Sets are kept as sorted slices.
type State struct {
	CurrentXP               int64    `json:"currentXP"`
	CurrentLevel            int      `json:"currentLevel"`
	UnlockedEntities        []string `json:"unlockedEntities"`
	CurrentZone             string   `json:"currentZone"`
	AvailableZones          []string `json:"availableZones"`
	PendingServerValidation bool     `json:"pendingServerValidation"`
}

func (s State) clone() State {
	s.UnlockedEntities = slices.Clone(s.UnlockedEntities)
	s.AvailableZones = slices.Clone(s.AvailableZones)
	return s
}

// HasEntity reports whether id is unlocked.
func (s State) HasEntity(id string) bool {
	_, ok := slices.BinarySearch(s.UnlockedEntities, id)
	return ok
}

// HasZone reports whether id is available.
func (s State) HasZone(id string) bool {
	_, ok := slices.BinarySearch(s.AvailableZones, id)
	return ok
}

// Reward is what reaching a level unlocks.
type Reward struct {
	Level    int
	Entities []string
	Zones    []string
}

// LevelChange describes the effect of an XP mutation.
type LevelChange struct {
	From     int
	To       int
	Entities []string // newly unlocked
	Zones    []string // newly available
}

// LeveledUp reports whether the level rose.
func (c LevelChange) LeveledUp() bool { return c.To > c.From }

// Payload is the body of xp operations.
type Payload struct {
	Delta        int64     `json:"delta"` // applied change, after clamping
	CurrentXP    int64     `json:"currentXP"`
	CurrentLevel int       `json:"currentLevel"`
	Admin        bool      `json:"admin,omitempty"`
	At           time.Time `json:"at"`
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithDefaultZone sets the zone every install starts in.
func WithDefaultZone(zone string) Option {
	return func(l *Ledger) {
		if zone != "" {
			l.defaultZone = zone
		}
	}
}

// WithStartingEntities sets the entities unlocked on a fresh install.
func WithStartingEntities(ids ...string) Option {
	return func(l *Ledger) { l.startingEntities = ids }
}

// WithRewards sets the level reward table.
func WithRewards(rewards []Reward) Option {
	return func(l *Ledger) { l.rewards = rewards }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger owns the experience slice.
type Ledger struct {
	mu    sync.Mutex
	state State

	defaultZone      string
	startingEntities []string
	rewards          []Reward
	repaired         bool // set when normalize rewrote a loaded document

	slice *persist.Slice[State]
	queue syncqueue.Enqueuer
	feed  notify.Feed[State]
	now   func() time.Time
}

// New loads the ledger from store. queue may be nil.
func New(store *persist.Store, queue syncqueue.Enqueuer, opts ...Option) *Ledger {
	l := &Ledger{queue: queue, defaultZone: "meadow", now: time.Now}
	for _, opt := range opts {
		opt(l)
	}

	l.slice = persist.NewSlice(store, persist.Schema[State]{
		Slice:    SliceName,
		Version:  1,
		Default:  l.defaultState,
		Validate: l.normalize,
		Legacy: []persist.LegacySource{
			{Key: "nomo-xp", Decode: decodeLegacy},
		},
	})

	state, outcome := l.slice.Load()
	l.state = state
	if outcome == persist.Loaded && l.repaired {
		l.slice.Save(l.state)
	}
	logging.Experience("Experience ledger loaded (%s): xp=%d level=%d zone=%s",
		outcome, state.CurrentXP, state.CurrentLevel, state.CurrentZone)
	return l
}

func (l *Ledger) defaultState() State {
	s := State{
		CurrentZone:    l.defaultZone,
		AvailableZones: []string{l.defaultZone},
	}
	for _, id := range l.startingEntities {
		s.UnlockedEntities = insertSorted(s.UnlockedEntities, id)
	}
	return s
}

// normalize repairs derived fields and rejects impossible states. The level
// is recomputed from XP whether the stored value was too low or too high.
func (l *Ledger) normalize(s *State) error {
	if s.CurrentXP < 0 {
		return fmt.Errorf("negative xp %d", s.CurrentXP)
	}
	if level := LevelFromXP(s.CurrentXP); s.CurrentLevel != level {
		logging.ExperienceWarn("Stored level %d does not match xp %d, using %d", s.CurrentLevel, s.CurrentXP, level)
		s.CurrentLevel = level
		l.repaired = true
	}

	s.UnlockedEntities = sortedSet(s.UnlockedEntities)
	s.AvailableZones = sortedSet(s.AvailableZones)
	for _, id := range l.startingEntities {
		s.UnlockedEntities = insertSorted(s.UnlockedEntities, id)
	}
	s.AvailableZones = insertSorted(s.AvailableZones, l.defaultZone)
	for _, r := range l.rewards {
		if r.Level <= s.CurrentLevel {
			for _, id := range r.Entities {
				s.UnlockedEntities = insertSorted(s.UnlockedEntities, id)
			}
			for _, id := range r.Zones {
				s.AvailableZones = insertSorted(s.AvailableZones, id)
			}
		}
	}
	if !s.HasZone(s.CurrentZone) {
		logging.ExperienceWarn("Current zone %q is not available, using %s", s.CurrentZone, l.defaultZone)
		s.CurrentZone = l.defaultZone
		l.repaired = true
	}
	return nil
}

// decodeLegacy maps the unversioned blob older clients kept under "nomo-xp",
// which named entities animals and zones biomes.
func decodeLegacy(raw []byte) (json.RawMessage, error) {
	var old struct {
		CurrentXP       *int64   `json:"currentXP"`
		CurrentLevel    int      `json:"currentLevel"`
		UnlockedAnimals []string `json:"unlockedAnimals"`
		CurrentBiome    string   `json:"currentBiome"`
		AvailableBiomes []string `json:"availableBiomes"`
	}
	if err := json.Unmarshal(raw, &old); err != nil {
		return nil, err
	}
	if old.CurrentXP == nil {
		return nil, fmt.Errorf("legacy xp blob has no currentXP")
	}
	return json.Marshal(State{
		CurrentXP:        *old.CurrentXP,
		CurrentLevel:     old.CurrentLevel,
		UnlockedEntities: old.UnlockedAnimals,
		CurrentZone:      old.CurrentBiome,
		AvailableZones:   old.AvailableBiomes,
	})
}

// State returns a snapshot.
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.clone()
}

// Level returns the current level.
func (l *Ledger) Level() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.CurrentLevel
}

// HasEntity reports whether id is unlocked.
func (l *Ledger) HasEntity(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.HasEntity(id)
}

// Subscribe registers fn for every committed change.
func (l *Ledger) Subscribe(fn func(State)) (unsubscribe func()) {
	return l.feed.Subscribe(fn)
}

// AddXP is the gameplay path: amount <= 0 is a no-op. XP saturates at
// math.MaxInt64 instead of wrapping.
func (l *Ledger) AddXP(amount int64) LevelChange {
	if amount <= 0 {
		l.mu.Lock()
		defer l.mu.Unlock()
		return LevelChange{From: l.state.CurrentLevel, To: l.state.CurrentLevel}
	}
	return l.apply(amount, false)
}

// AdjustXP applies an administrative correction. XP floors at zero and the
// level may drop; unlocks already granted are kept.
func (l *Ledger) AdjustXP(delta int64) LevelChange {
	if delta == 0 {
		l.mu.Lock()
		defer l.mu.Unlock()
		return LevelChange{From: l.state.CurrentLevel, To: l.state.CurrentLevel}
	}
	return l.apply(delta, true)
}

func (l *Ledger) apply(delta int64, admin bool) LevelChange {
	l.mu.Lock()
	change := LevelChange{From: l.state.CurrentLevel}
	prev := l.state.CurrentXP
	var xp int64
	switch {
	case delta > 0 && delta > math.MaxInt64-prev:
		xp = math.MaxInt64
	case prev+delta < 0:
		xp = 0
	default:
		xp = prev + delta
	}
	l.state.CurrentXP = xp
	l.state.CurrentLevel = LevelFromXP(xp)
	change.To = l.state.CurrentLevel
	if change.LeveledUp() {
		change.Entities, change.Zones = l.grantLocked(change.From, change.To)
	}
	l.state.PendingServerValidation = true
	snapshot := l.state.clone()
	l.enqueueLocked(Payload{
		Delta:        xp - prev,
		CurrentXP:    snapshot.CurrentXP,
		CurrentLevel: snapshot.CurrentLevel,
		Admin:        admin,
		At:           l.now().UTC(),
	})
	l.slice.Save(snapshot)
	l.mu.Unlock()

	logging.ExperienceDebug("XP %+d: xp=%d level=%d", delta, snapshot.CurrentXP, snapshot.CurrentLevel)
	if change.LeveledUp() {
		logging.Experience("Level up %d -> %d (unlocked entities=%v zones=%v)", change.From, change.To, change.Entities, change.Zones)
		logging.AuditFor(logging.CategoryExperience).Log(logging.AuditEvent{
			EventType: logging.AuditLevelUp,
			Amount:    int64(change.To),
			Success:   true,
			Fields:    map[string]interface{}{"from": change.From, "xp": snapshot.CurrentXP},
		})
	}
	l.feed.Publish(snapshot)
	return change
}

// grantLocked applies rewards for levels in (from, to].
func (l *Ledger) grantLocked(from, to int) (entities, zones []string) {
	for _, r := range l.rewards {
		if r.Level <= from || r.Level > to {
			continue
		}
		for _, id := range r.Entities {
			if !l.state.HasEntity(id) {
				l.state.UnlockedEntities = insertSorted(l.state.UnlockedEntities, id)
				entities = append(entities, id)
			}
		}
		for _, id := range r.Zones {
			if !l.state.HasZone(id) {
				l.state.AvailableZones = insertSorted(l.state.AvailableZones, id)
				zones = append(zones, id)
			}
		}
	}
	return entities, zones
}

// UnlockEntity adds id to the unlocked set and reports whether it was new.
func (l *Ledger) UnlockEntity(id string) bool {
	return l.unlock(id, func(s *State) *[]string { return &s.UnlockedEntities })
}

// UnlockZone adds id to the available zones and reports whether it was new.
func (l *Ledger) UnlockZone(id string) bool {
	return l.unlock(id, func(s *State) *[]string { return &s.AvailableZones })
}

func (l *Ledger) unlock(id string, set func(*State) *[]string) bool {
	if id == "" {
		return false
	}
	l.mu.Lock()
	target := set(&l.state)
	if _, ok := slices.BinarySearch(*target, id); ok {
		l.mu.Unlock()
		return false
	}
	*target = insertSorted(*target, id)
	snapshot := l.state.clone()
	l.slice.Save(snapshot)
	l.mu.Unlock()

	logging.ExperienceDebug("Unlocked %s", id)
	l.feed.Publish(snapshot)
	return true
}

// SwitchZone moves to zone id. It is rejected when the zone is not available.
func (l *Ledger) SwitchZone(id string) bool {
	l.mu.Lock()
	if !l.state.HasZone(id) {
		l.mu.Unlock()
		logging.ExperienceDebug("Switch to unavailable zone %q rejected", id)
		return false
	}
	if l.state.CurrentZone == id {
		l.mu.Unlock()
		return true
	}
	l.state.CurrentZone = id
	snapshot := l.state.clone()
	l.slice.Save(snapshot)
	l.mu.Unlock()

	l.feed.Publish(snapshot)
	return true
}

// ClearPending clears the pending flag after the server confirmed the XP
// operations.
func (l *Ledger) ClearPending() {
	l.mu.Lock()
	if !l.state.PendingServerValidation {
		l.mu.Unlock()
		return
	}
	l.state.PendingServerValidation = false
	snapshot := l.state.clone()
	l.slice.Save(snapshot)
	l.mu.Unlock()

	l.feed.Publish(snapshot)
}

func (l *Ledger) enqueueLocked(p Payload) {
	if l.queue == nil {
		return
	}
	if _, err := l.queue.Enqueue(syncqueue.KindXP, p); err != nil {
		logging.ExperienceWarn("Failed to enqueue xp: %v", err)
	}
}

func insertSorted(set []string, id string) []string {
	i, ok := slices.BinarySearch(set, id)
	if ok {
		return set
	}
	return slices.Insert(set, i, id)
}

func sortedSet(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	out = slices.Compact(out)
	return slices.DeleteFunc(out, func(s string) bool { return s == "" })
}
