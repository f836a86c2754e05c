// Package focus turns completed focus sessions reported by the platform into
// ledger rewards. It only calls each ledger's own methods.
package focus

import (
	"errors"
	"fmt"
	"time"

	"nomo/internal/experience"
	"nomo/internal/logging"
	"nomo/internal/streak"
)

// ErrInvalidSample is returned for samples that cannot describe a session.
var ErrInvalidSample = errors.New("focus: invalid sample")

// Sample is what the platform reports for one finished session.
type Sample struct {
	SessionMinutes int64     `json:"sessionMinutes"`
	CompletedAt    time.Time `json:"completedAt"`
}

// Wallet is the currency side the processor needs.
type Wallet interface {
	CreditFor(amount int64, reason string)
}

// Progression is the experience side the processor needs.
type Progression interface {
	AddXP(amount int64) experience.LevelChange
}

// Streaks is the streak side the processor needs.
type Streaks interface {
	RecordSessionAt(ts time.Time) streak.SessionResult
	AddFreeze(n int)
}

// Rates converts minutes into rewards.
type Rates struct {
	CoinsPerMinute int64
	XPPerMinute    int64
	MinMinutes     int64 // shorter sessions earn nothing
	MaxMinutes     int64 // longer sessions are clamped; 0 means no cap
}

// Result reports everything a sample produced.
type Result struct {
	Ignored bool
	Minutes int64
	Coins   int64 // including any milestone coins
	XP      int64 // including any milestone XP
	Freezes int
	Session streak.SessionResult
	Level   experience.LevelChange
}

// Processor applies samples.
type Processor struct {
	rates   Rates
	wallet  Wallet
	levels  Progression
	streaks Streaks
}

// NewProcessor creates a processor.
func NewProcessor(rates Rates, wallet Wallet, levels Progression, streaks Streaks) *Processor {
	return &Processor{rates: rates, wallet: wallet, levels: levels, streaks: streaks}
}

// Process applies one sample: session, coins, XP, then any milestone reward.
func (p *Processor) Process(s Sample) (Result, error) {
	if s.SessionMinutes < 0 || s.CompletedAt.IsZero() {
		return Result{}, fmt.Errorf("%w: minutes=%d completedAt=%v", ErrInvalidSample, s.SessionMinutes, s.CompletedAt)
	}

	minutes := s.SessionMinutes
	if p.rates.MaxMinutes > 0 && minutes > p.rates.MaxMinutes {
		logging.FocusDebug("Clamping %d-minute session to %d", minutes, p.rates.MaxMinutes)
		minutes = p.rates.MaxMinutes
	}
	res := Result{Minutes: minutes}
	if minutes < p.rates.MinMinutes || minutes == 0 {
		res.Ignored = true
		logging.FocusDebug("Ignoring %d-minute session (minimum %d)", minutes, p.rates.MinMinutes)
		return res, nil
	}

	res.Session = p.streaks.RecordSessionAt(s.CompletedAt)

	coins := minutes * p.rates.CoinsPerMinute
	p.wallet.CreditFor(coins, "focus-session")
	res.Coins = coins

	xp := minutes * p.rates.XPPerMinute
	res.Level = p.levels.AddXP(xp)
	res.XP = xp

	if m := res.Session.Milestone; m != nil {
		reason := fmt.Sprintf("streak-milestone:%d", m.Days)
		p.wallet.CreditFor(m.Coins, reason)
		res.Coins += max(m.Coins, 0)
		if m.XP > 0 {
			change := p.levels.AddXP(m.XP)
			res.Level.To = change.To
			res.Level.Entities = append(res.Level.Entities, change.Entities...)
			res.Level.Zones = append(res.Level.Zones, change.Zones...)
			res.XP += m.XP
		}
		p.streaks.AddFreeze(m.Freezes)
		res.Freezes = max(m.Freezes, 0)
	}

	logging.Focus("Session of %d min: +%d coins, +%d xp, streak=%d", minutes, res.Coins, res.XP, res.Session.Streak)
	return res, nil
}
