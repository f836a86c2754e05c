package experience

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nomo/internal/persist"
	"nomo/internal/syncqueue"
)

var testRewards = []Reward{
	{Level: 3, Entities: []string{"fox"}},
	{Level: 5, Entities: []string{"owl"}, Zones: []string{"forest"}},
}

func newLedger(t *testing.T) (*Ledger, *persist.MemoryBackend, *persist.Store, *syncqueue.Recorder) {
	t.Helper()
	mem := persist.NewMemoryBackend()
	store := persist.NewStore(mem, "test.v1")
	rec := &syncqueue.Recorder{}
	l := New(store, rec, WithStartingEntities("bunny"), WithRewards(testRewards))
	return l, mem, store, rec
}

func TestXPRequirementCurve(t *testing.T) {
	assert.Equal(t, int64(0), XPRequirement(0))
	assert.Equal(t, int64(15), XPRequirement(1))
	assert.Equal(t, int64(17), XPRequirement(2))
	assert.Equal(t, int64(19), XPRequirement(3))
	assert.Equal(t, XPRequirement(MaxLevel), XPRequirement(MaxLevel+10))

	for l := 1; l <= MaxLevel; l++ {
		assert.Greater(t, XPRequirement(l), XPRequirement(l-1), "level %d", l)
	}
}

func TestLevelFromXPIsMonotonicInverse(t *testing.T) {
	prev := 0
	for xp := int64(0); xp <= XPRequirement(MaxLevel)+100; xp++ {
		level := LevelFromXP(xp)
		require.GreaterOrEqual(t, level, prev, "xp %d", xp)
		require.LessOrEqual(t, XPRequirement(level), xp)
		if level < MaxLevel {
			require.Greater(t, XPRequirement(level+1), xp)
		}
		prev = level
	}
	assert.Equal(t, MaxLevel, LevelFromXP(1<<40))
}

func TestAddXP_Scenario(t *testing.T) {
	l, _, _, rec := newLedger(t)
	assert.Equal(t, 0, l.Level())

	change := l.AddXP(15)
	assert.Equal(t, LevelChange{From: 0, To: 1}, change)
	assert.Equal(t, 1, l.Level())

	change = l.AddXP(1)
	assert.False(t, change.LeveledUp())
	assert.Equal(t, int64(16), l.State().CurrentXP)
	assert.Equal(t, 1, l.Level())
	assert.Equal(t, 2, rec.Count(syncqueue.KindXP))
}

func TestAddXP_NonPositiveIsNoop(t *testing.T) {
	l, _, _, rec := newLedger(t)
	l.AddXP(0)
	l.AddXP(-20)
	assert.Equal(t, int64(0), l.State().CurrentXP)
	assert.Empty(t, rec.Ops)
}

func TestAddXP_LevelAlwaysMatchesXP(t *testing.T) {
	l, _, _, _ := newLedger(t)
	for i := int64(1); i <= 200; i++ {
		l.AddXP(i % 37)
		s := l.State()
		require.Equal(t, LevelFromXP(s.CurrentXP), s.CurrentLevel)
	}
}

func TestAddXP_SaturatesAtLimit(t *testing.T) {
	l, _, store, rec := newLedger(t)
	l.AddXP(100)

	change := l.AddXP(math.MaxInt64)
	s := l.State()
	assert.Equal(t, int64(math.MaxInt64), s.CurrentXP)
	assert.Equal(t, MaxLevel, s.CurrentLevel)
	assert.Equal(t, MaxLevel, change.To)

	payload := rec.Ops[len(rec.Ops)-1].Payload.(Payload)
	assert.Equal(t, int64(math.MaxInt64-100), payload.Delta)

	l.AddXP(1)
	assert.Equal(t, int64(math.MaxInt64), l.State().CurrentXP)
	assert.Equal(t, MaxLevel, New(store, nil).Level())
}

func TestAdjustXP_SaturatesAtLimit(t *testing.T) {
	l, _, _, _ := newLedger(t)
	l.AddXP(50)
	l.AdjustXP(math.MaxInt64)
	assert.Equal(t, int64(math.MaxInt64), l.State().CurrentXP)

	l.AdjustXP(math.MinInt64)
	assert.Equal(t, int64(0), l.State().CurrentXP)
	assert.Equal(t, 0, l.Level())
}

func TestAddXP_GrantsLevelRewards(t *testing.T) {
	l, _, _, _ := newLedger(t)

	change := l.AddXP(XPRequirement(5))
	assert.Equal(t, 5, change.To)
	assert.Equal(t, []string{"fox", "owl"}, change.Entities)
	assert.Equal(t, []string{"forest"}, change.Zones)

	s := l.State()
	assert.Equal(t, []string{"bunny", "fox", "owl"}, s.UnlockedEntities)
	assert.Equal(t, []string{"forest", "meadow"}, s.AvailableZones)
}

func TestAdjustXP_FloorsAndKeepsUnlocks(t *testing.T) {
	l, _, _, rec := newLedger(t)
	l.AddXP(XPRequirement(3))
	require.True(t, l.HasEntity("fox"))

	change := l.AdjustXP(-1000)
	assert.Equal(t, 3, change.From)
	assert.Equal(t, 0, change.To)
	assert.Equal(t, int64(0), l.State().CurrentXP)
	assert.True(t, l.HasEntity("fox"), "unlocks are never revoked")

	payload := rec.Ops[len(rec.Ops)-1].Payload.(Payload)
	assert.True(t, payload.Admin)
}

func TestUnlockIsIdempotent(t *testing.T) {
	l, _, _, _ := newLedger(t)
	assert.True(t, l.UnlockEntity("cat"))
	assert.False(t, l.UnlockEntity("cat"))
	assert.True(t, l.UnlockZone("beach"))
	assert.False(t, l.UnlockZone("beach"))
	assert.False(t, l.UnlockEntity(""))

	s := l.State()
	assert.Equal(t, []string{"bunny", "cat"}, s.UnlockedEntities)
	assert.Equal(t, []string{"beach", "meadow"}, s.AvailableZones)
}

func TestSwitchZone(t *testing.T) {
	l, _, _, _ := newLedger(t)
	assert.False(t, l.SwitchZone("volcano"))
	assert.Equal(t, "meadow", l.State().CurrentZone)

	l.UnlockZone("volcano")
	assert.True(t, l.SwitchZone("volcano"))
	assert.Equal(t, "volcano", l.State().CurrentZone)
}

func TestRehydrateRecomputesLevelBothDirections(t *testing.T) {
	cases := map[string]State{
		"stored too low":  {CurrentXP: 100, CurrentLevel: 1, CurrentZone: "meadow", AvailableZones: []string{"meadow"}},
		"stored too high": {CurrentXP: 16, CurrentLevel: 30, CurrentZone: "meadow", AvailableZones: []string{"meadow"}},
	}
	for name, stored := range cases {
		t.Run(name, func(t *testing.T) {
			mem := persist.NewMemoryBackend()
			store := persist.NewStore(mem, "test.v1")
			state, _ := json.Marshal(stored)
			doc, _ := json.Marshal(map[string]any{"version": 1, "state": json.RawMessage(state)})
			mem.Put(store.Key(SliceName), doc)

			l := New(store, nil)
			assert.Equal(t, LevelFromXP(stored.CurrentXP), l.Level())

			// The repaired level is written back.
			again := New(store, nil)
			assert.Equal(t, l.State(), again.State())
		})
	}
}

func TestRehydrateRepairsZone(t *testing.T) {
	mem := persist.NewMemoryBackend()
	store := persist.NewStore(mem, "test.v1")
	mem.Put(store.Key(SliceName), []byte(`{"version":1,"state":{"currentXP":0,"currentZone":"moon","availableZones":["meadow"]}}`))

	l := New(store, nil)
	assert.Equal(t, "meadow", l.State().CurrentZone)
}

func TestLegacyXPRecovered(t *testing.T) {
	mem := persist.NewMemoryBackend()
	store := persist.NewStore(mem, "test.v1")
	mem.Put("nomo-xp", []byte(`{"currentXP":40,"currentLevel":9,"unlockedAnimals":["cat","bunny"],"currentBiome":"beach","availableBiomes":["meadow","beach"]}`))

	l := New(store, nil, WithStartingEntities("bunny"))
	want := State{
		CurrentXP:        40,
		CurrentLevel:     LevelFromXP(40),
		UnlockedEntities: []string{"bunny", "cat"},
		CurrentZone:      "beach",
		AvailableZones:   []string{"beach", "meadow"},
	}
	if diff := cmp.Diff(want, l.State()); diff != "" {
		t.Errorf("recovered state mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscribeSeesCommittedState(t *testing.T) {
	l, _, _, _ := newLedger(t)
	var levels []int
	unsub := l.Subscribe(func(s State) { levels = append(levels, s.CurrentLevel) })
	l.AddXP(15)
	unsub()
	l.AddXP(100)
	assert.Equal(t, []int{1}, levels)
}

func TestClearPending(t *testing.T) {
	l, _, store, _ := newLedger(t)
	l.AddXP(5)
	require.True(t, l.State().PendingServerValidation)
	l.ClearPending()
	assert.False(t, New(store, nil).State().PendingServerValidation)
}
