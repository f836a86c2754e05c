package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"nomo/internal/config"
	"nomo/internal/currency"
	"nomo/internal/experience"
	"nomo/internal/logging"
	"nomo/internal/network"
	"nomo/internal/shop"
	"nomo/internal/streak"
	"nomo/internal/syncqueue"
)

// Run drives background work until ctx is cancelled: a drain on every online
// transition, a periodic drain while online, the connectivity prober and the
// config watcher.
func (e *Engine) Run(ctx context.Context) error {
	logging.Engine("Run loop starting")
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.drainLoop(gctx) })
	if e.prober != nil {
		g.Go(func() error { return e.prober.Run(gctx) })
	}
	if e.configPath != "" {
		w, err := e.newWatcher()
		if err != nil {
			logging.EngineWarn("Config watcher disabled: %v", err)
		} else {
			g.Go(func() error { return e.watchConfig(gctx, w) })
		}
	}

	err := g.Wait()
	logging.Engine("Run loop stopped")
	return err
}

func (e *Engine) requestDrain() {
	select {
	case e.drainReq <- struct{}{}:
	default:
	}
}

func (e *Engine) drainLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.GetDrainInterval())
	defer ticker.Stop()

	if e.Monitor.IsOnline() && e.Queue.Len() > 0 {
		e.requestDrain()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.drainReq:
		case <-ticker.C:
			if !e.Monitor.IsOnline() || e.Queue.Len() == 0 {
				continue
			}
		}
		report := e.Queue.Drain(ctx)
		if report.Skipped != "" {
			logging.EngineDebug("Drain skipped: %s", report.Skipped)
		}
	}
}

func (e *Engine) newWatcher() (*fsnotify.Watcher, error) {
	dir := filepath.Dir(e.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors replace files on save, so the directory is watched.
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	logging.EngineDebug("Watching %s", e.configPath)
	return w, nil
}

// watchConfig reloads logging settings when the config file changes.
func (e *Engine) watchConfig(ctx context.Context, w *fsnotify.Watcher) error {
	defer w.Close()
	target := filepath.Clean(e.configPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			e.reloadLogging()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logging.EngineWarn("Config watcher error: %v", err)
		}
	}
}

func (e *Engine) reloadLogging() {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		logging.EngineWarn("Ignoring config change: %v", err)
		return
	}
	logging.Configure(LoggingSettings(cfg.Logging))
	logging.Engine("Logging settings reloaded (level=%s debug=%v)", cfg.Logging.Level, cfg.Logging.DebugMode)
}

// Sync runs one drain now. An offline monitor with a prober gets one probe
// first. force ignores backoff windows.
func (e *Engine) Sync(ctx context.Context, force bool) syncqueue.DrainReport {
	if !e.Monitor.IsOnline() && e.prober != nil {
		e.prober.Probe(ctx)
	}
	if force {
		return e.Queue.Flush(ctx)
	}
	return e.Queue.Drain(ctx)
}

// Status is a snapshot of every container.
type Status struct {
	Currency   currency.State
	Experience experience.State
	Streak     streak.State
	Inventory  shop.Inventory
	Queue      syncqueue.Stats
	Network    network.Status
}

// Status returns a snapshot of every container.
func (e *Engine) Status() Status {
	return Status{
		Currency:   e.Currency.State(),
		Experience: e.Experience.State(),
		Streak:     e.Streak.State(),
		Inventory:  e.Shop.Inventory(),
		Queue:      e.Queue.Stats(),
		Network:    e.Monitor.Status(),
	}
}
