// Package network is the single source of truth for connectivity. Only real
// transitions are published, so subscribers can treat every notification as
// an edge.
package network

import (
	"sync"
	"time"

	"nomo/internal/logging"
	"nomo/internal/notify"
)

// Status is the connectivity state.
type Status int

const (
	Unknown Status = iota
	Online
	Offline
)

func (s Status) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	}
	return "unknown"
}

// Transition is a status change.
type Transition struct {
	From Status
	To   Status
	At   time.Time
}

// CameOnline reports whether this transition entered Online.
func (t Transition) CameOnline() bool { return t.To == Online && t.From != Online }

// Monitor holds the current status.
type Monitor struct {
	mu     sync.Mutex
	status Status
	since  time.Time
	feed   notify.Feed[Transition]
	now    func() time.Time
}

// NewMonitor starts in Unknown.
func NewMonitor() *Monitor {
	return &Monitor{now: time.Now}
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Since returns when the current status began. Zero while Unknown.
func (m *Monitor) Since() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.since
}

// IsOnline reports whether the last observation was online.
func (m *Monitor) IsOnline() bool {
	return m.Status() == Online
}

// Set records an observation and reports whether it changed the status.
func (m *Monitor) Set(online bool) bool {
	to := Offline
	if online {
		to = Online
	}

	m.mu.Lock()
	if m.status == to {
		m.mu.Unlock()
		return false
	}
	tr := Transition{From: m.status, To: to, At: m.now()}
	m.status = to
	m.since = tr.At
	m.mu.Unlock()

	logging.Network("Connectivity %s -> %s", tr.From, tr.To)
	m.feed.Publish(tr)
	return true
}

// Subscribe registers fn for every transition.
func (m *Monitor) Subscribe(fn func(Transition)) (unsubscribe func()) {
	return m.feed.Subscribe(fn)
}
