// Package engine wires the ledgers, the sync queue and connectivity into one
// instance per process.
package engine

import (
	"fmt"
	"path/filepath"
	"time"

	"nomo/internal/achievement"
	"nomo/internal/config"
	"nomo/internal/currency"
	"nomo/internal/experience"
	"nomo/internal/focus"
	"nomo/internal/logging"
	"nomo/internal/network"
	"nomo/internal/persist"
	"nomo/internal/remote"
	"nomo/internal/shop"
	"nomo/internal/streak"
	"nomo/internal/syncqueue"
)

// Engine owns every container. Fields are set once by Open.
type Engine struct {
	cfg        *config.Config
	workspace  string
	configPath string

	Store        *persist.Store
	Metrics      *syncqueue.Metrics
	Queue        *syncqueue.Queue
	Currency     *currency.Ledger
	Experience   *experience.Ledger
	Streak       *streak.Tracker
	Shop         *shop.Manager
	Focus        *focus.Processor
	Achievements *achievement.Tracker
	Monitor      *network.Monitor

	authority remote.Authority
	prober    *network.Prober
	drainReq  chan struct{}
	detach    []func()
}

// Option configures Open.
type Option func(*options)

type options struct {
	backend    persist.Backend
	authority  remote.Authority
	checker    network.Checker
	now        func() time.Time
	configPath string
}

// WithBackend replaces the configured storage backend.
func WithBackend(b persist.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithAuthority replaces the configured remote authority. The monitor then
// starts online unless a checker is also supplied.
func WithAuthority(a remote.Authority) Option {
	return func(o *options) { o.authority = a }
}

// WithChecker replaces the HTTP health probe.
func WithChecker(c network.Checker) Option {
	return func(o *options) { o.checker = c }
}

// WithClock overrides time.Now in every container.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithConfigPath enables the config watcher on path.
func WithConfigPath(path string) Option {
	return func(o *options) { o.configPath = path }
}

// Open builds the engine from cfg. workspace anchors relative storage paths.
func Open(cfg *config.Config, workspace string, opts ...Option) (*Engine, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "Open")
	defer timer.Stop()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	backend := o.backend
	if backend == nil {
		b, err := openBackend(cfg.Storage, workspace)
		if err != nil {
			return nil, err
		}
		backend = b
	}

	e := &Engine{
		cfg:        cfg,
		workspace:  workspace,
		configPath: o.configPath,
		Store:      persist.NewStore(backend, cfg.Storage.Namespace),
		Metrics:    syncqueue.NewMetrics("nomo"),
		Monitor:    network.NewMonitor(),
		drainReq:   make(chan struct{}, 1),
	}

	if err := e.connect(cfg, o); err != nil {
		backend.Close()
		return nil, err
	}

	e.Queue = syncqueue.New(e.Store, e.authority, queueConfig(cfg),
		syncqueue.WithClock(o.now),
		syncqueue.WithOnline(e.Monitor.IsOnline),
		syncqueue.WithSettle(e.settle),
		syncqueue.WithMetrics(e.Metrics),
	)

	loc, err := cfg.Streak.Location()
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("invalid streak timezone: %w", err)
	}
	e.Currency = currency.New(e.Store, e.Queue,
		currency.WithStartingBalance(cfg.Economy.StartingBalance),
		currency.WithClock(o.now),
		currency.WithOutstanding(func() bool {
			return e.Queue.Count(syncqueue.KindCredit, syncqueue.KindDebit) > 0
		}),
	)
	e.Experience = experience.New(e.Store, e.Queue,
		experience.WithDefaultZone(cfg.Progression.DefaultZone),
		experience.WithStartingEntities(cfg.Progression.StartingEntities...),
		experience.WithRewards(levelRewards(cfg.Progression.LevelRewards)),
		experience.WithClock(o.now),
	)
	streakOpts := []streak.Option{streak.WithLocation(loc), streak.WithClock(o.now)}
	if ms := milestones(cfg.Streak.Milestones); ms != nil {
		streakOpts = append(streakOpts, streak.WithMilestones(ms))
	}
	e.Streak = streak.New(e.Store, e.Queue, streakOpts...)

	catalog, err := buildCatalog(cfg.Shop.Items)
	if err != nil {
		backend.Close()
		return nil, err
	}
	e.Shop = shop.NewManager(e.Store, catalog, e.Currency, e.Experience, e.Streak, e.Queue)

	e.Focus = focus.NewProcessor(focus.Rates{
		CoinsPerMinute: cfg.Economy.CoinsPerMinute,
		XPPerMinute:    cfg.Economy.XPPerMinute,
		MinMinutes:     cfg.Economy.MinSessionMinutes,
		MaxMinutes:     cfg.Economy.MaxSessionMinutes,
	}, e.Currency, e.Experience, e.Streak)

	e.Achievements, err = achievement.New(e.Store, definitions(cfg.Achievements), achievement.WithClock(o.now))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("invalid achievements: %w", err)
	}
	e.detach = append(e.detach, e.Achievements.Attach(achievement.Sources{
		Currency:   e.Currency,
		Experience: e.Experience,
		Streak:     e.Streak,
		Shop:       e.Shop,
	}))
	e.detach = append(e.detach, e.Monitor.Subscribe(func(tr network.Transition) {
		if tr.CameOnline() {
			e.requestDrain()
		}
	}))

	if tr := e.Streak.CheckValidity(); tr != streak.NoChange {
		logging.Engine("Streak check on open: %s", tr)
	}

	logging.Engine("Engine ready: backend=%s namespace=%s remote=%v pending=%d",
		cfg.Storage.Backend, cfg.Storage.Namespace, cfg.Remote.Enabled, e.Queue.Len())
	return e, nil
}

// connect picks the authority and the connectivity source.
func (e *Engine) connect(cfg *config.Config, o options) error {
	var healthURL string
	switch {
	case o.authority != nil:
		e.authority = o.authority
	case cfg.Remote.Enabled:
		client, err := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.GetRemoteTimeout())
		if err != nil {
			return fmt.Errorf("remote client: %w", err)
		}
		client = client.WithHealthPath(cfg.Remote.HealthPath)
		e.authority = client
		healthURL = client.HealthURL()
	default:
		// No remote: drains must never run.
		e.authority = remote.Offline{}
		e.Monitor.Set(false)
		return nil
	}

	checker := o.checker
	if checker == nil && healthURL != "" && cfg.Network.ProbeEnabled {
		checker = network.HTTPChecker{URL: healthURL}
	}
	if checker == nil {
		e.Monitor.Set(true)
		return nil
	}
	e.prober = network.NewProber(e.Monitor, checker,
		cfg.GetProbeInterval(), cfg.GetProbeMaxBackoff(), cfg.GetProbeTimeout())
	return nil
}

func openBackend(sc config.StorageConfig, workspace string) (persist.Backend, error) {
	path := sc.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	switch sc.Backend {
	case "memory":
		return persist.NewMemoryBackend(), nil
	case "sqlite":
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "nomo.db")
		}
		b, err := persist.OpenSQLite(path, sc.Driver)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "file", "":
		b, err := persist.NewFileBackend(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
}

// settle applies an accepted verdict to the ledgers. It runs after the entry
// left the queue, so pending flags only clear once nothing of theirs is queued.
func (e *Engine) settle(entry syncqueue.Entry, verdict remote.Verdict) {
	if b := verdict.Authoritative; b != nil {
		if err := e.Currency.SyncFromServer(b.Balance, b.TotalEarned, b.TotalSpent); err != nil {
			logging.EngineWarn("Ignoring authoritative balances for %s: %v", entry.ID, err)
		}
	}
	if entry.Kind == syncqueue.KindXP && e.Queue.Count(syncqueue.KindXP) == 0 {
		e.Experience.ClearPending()
	}
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() *config.Config { return e.cfg }

// Close detaches observers and closes storage.
func (e *Engine) Close() error {
	for _, d := range e.detach {
		d()
	}
	e.detach = nil
	return e.Store.Close()
}
