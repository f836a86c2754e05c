package achievement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nomo/internal/currency"
	"nomo/internal/experience"
	"nomo/internal/persist"
	"nomo/internal/shop"
	"nomo/internal/streak"
)

var fixedNow = time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC)

func testDefs() []Definition {
	return []Definition{
		{ID: "first-purchase", Metric: MetricPurchases, Threshold: 1},
		{ID: "earned-100", Metric: MetricEarned, Threshold: 100},
		{ID: "earned-1000", Metric: MetricEarned, Threshold: 1000},
		{ID: "level-2", Metric: MetricLevel, Threshold: 2},
		{ID: "streak-1", Metric: MetricStreak, Threshold: 1},
		{ID: "sessions-1", Metric: MetricSessions, Threshold: 1},
	}
}

func newTracker(t *testing.T, store *persist.Store) *Tracker {
	t.Helper()
	tr, err := New(store, testDefs(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return tr
}

func TestNew_RejectsBadDefinitions(t *testing.T) {
	store := persist.NewStore(persist.NewMemoryBackend(), "test.v1")
	cases := map[string][]Definition{
		"empty id":       {{Metric: MetricLevel, Threshold: 1}},
		"duplicate":      {{ID: "a", Metric: MetricLevel, Threshold: 1}, {ID: "a", Metric: MetricLevel, Threshold: 2}},
		"unknown metric": {{ID: "a", Metric: "steps", Threshold: 1}},
		"zero threshold": {{ID: "a", Metric: MetricLevel}},
	}
	for name, defs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(store, defs)
			assert.Error(t, err)
		})
	}
}

func TestObserve_UnlocksOnce(t *testing.T) {
	store := persist.NewStore(persist.NewMemoryBackend(), "test.v1")
	tr := newTracker(t, store)

	var published []string
	tr.Subscribe(func(u Unlock) { published = append(published, u.Definition.ID) })

	assert.Empty(t, tr.Observe(MetricEarned, 99))
	got := tr.Observe(MetricEarned, 150)
	require.Len(t, got, 1)
	assert.Equal(t, "earned-100", got[0].Definition.ID)
	assert.Equal(t, fixedNow, got[0].At)

	assert.Empty(t, tr.Observe(MetricEarned, 200))
	got = tr.Observe(MetricEarned, 5000)
	require.Len(t, got, 1)
	assert.Equal(t, "earned-1000", got[0].Definition.ID)

	assert.Equal(t, []string{"earned-100", "earned-1000"}, published)
}

func TestObserve_ProgressRatchets(t *testing.T) {
	tr := newTracker(t, persist.NewStore(persist.NewMemoryBackend(), "test.v1"))
	tr.Observe(MetricEarned, 80)
	tr.Observe(MetricEarned, 10)

	for _, s := range tr.Statuses() {
		if s.Definition.ID == "earned-100" {
			assert.Equal(t, int64(80), s.Progress)
			assert.False(t, s.Unlocked)
		}
	}
}

func TestUnlocks_Persist(t *testing.T) {
	store := persist.NewStore(persist.NewMemoryBackend(), "test.v1")
	newTracker(t, store).Observe(MetricLevel, 3)

	again := newTracker(t, store)
	assert.True(t, again.Unlocked("level-2"))
	assert.Empty(t, again.Observe(MetricLevel, 4), "already unlocked before restart")

	statuses := again.Statuses()
	assert.Equal(t, "level-2", statuses[0].Definition.ID)
	assert.True(t, statuses[0].Unlocked)
}

func TestAttach_WatchesLedgers(t *testing.T) {
	store := persist.NewStore(persist.NewMemoryBackend(), "test.v1")
	coins := currency.New(store, nil)
	levels := experience.New(store, nil)
	streaks := streak.New(store, nil, streak.WithLocation(time.UTC))
	manager := shop.NewManager(store, nil, coins, levels, streaks, nil)

	tr := newTracker(t, store)
	detach := tr.Attach(Sources{Currency: coins, Experience: levels, Streak: streaks, Shop: manager})

	coins.Credit(120)
	assert.True(t, tr.Unlocked("earned-100"))

	levels.AddXP(20)
	assert.True(t, tr.Unlocked("level-2"))

	streaks.RecordSessionAt(fixedNow)
	assert.True(t, tr.Unlocked("streak-1"))
	assert.True(t, tr.Unlocked("sessions-1"))

	_, err := manager.Buy("glasses-round")
	require.NoError(t, err)
	assert.True(t, tr.Unlocked("first-purchase"))

	detach()
	coins.Credit(1000)
	assert.False(t, tr.Unlocked("earned-1000"))

	// Observing never writes back into a ledger.
	assert.Equal(t, int64(1120-60), coins.Balance())
}

func TestAttach_EvaluatesCurrentState(t *testing.T) {
	store := persist.NewStore(persist.NewMemoryBackend(), "test.v1")
	coins := currency.New(store, nil)
	coins.Credit(2000)

	tr := newTracker(t, store)
	defer tr.Attach(Sources{Currency: coins})()
	assert.True(t, tr.Unlocked("earned-1000"))
}
