package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMonitor_PublishesOnlyTransitions(t *testing.T) {
	m := NewMonitor()
	assert.Equal(t, Unknown, m.Status())

	var got []Transition
	unsub := m.Subscribe(func(tr Transition) { got = append(got, tr) })
	defer unsub()

	assert.True(t, m.Set(false))
	assert.False(t, m.Set(false))
	assert.True(t, m.Set(true))
	assert.False(t, m.Set(true))
	assert.True(t, m.Set(false))

	require.Len(t, got, 3)
	assert.Equal(t, Unknown, got[0].From)
	assert.Equal(t, Offline, got[0].To)
	assert.True(t, got[1].CameOnline())
	assert.False(t, got[2].CameOnline())
	assert.False(t, m.IsOnline())
	assert.False(t, m.Since().IsZero())
}

func TestHTTPChecker(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := HTTPChecker{URL: srv.URL + "/healthz", Client: srv.Client()}
	assert.NoError(t, c.Check(context.Background()))

	status = http.StatusNotFound
	assert.NoError(t, c.Check(context.Background()), "a 404 still proves reachability")

	status = http.StatusBadGateway
	assert.Error(t, c.Check(context.Background()))
}

func TestProber_ProbeSetsMonitor(t *testing.T) {
	m := NewMonitor()
	healthy := true
	p := NewProber(m, CheckerFunc(func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("unreachable")
	}), time.Minute, time.Minute, time.Second)

	assert.True(t, p.Probe(context.Background()))
	assert.Equal(t, Online, m.Status())

	healthy = false
	assert.False(t, p.Probe(context.Background()))
	assert.Equal(t, Offline, m.Status())
}

func TestProber_BackoffGrowsAndResets(t *testing.T) {
	p := NewProber(NewMonitor(), CheckerFunc(func(context.Context) error { return nil }),
		time.Minute, 8*time.Second, time.Second)
	p.backoff.RandomizationFactor = 0

	assert.Equal(t, time.Second, p.next(false))
	assert.Equal(t, 1500*time.Millisecond, p.next(false))
	for i := 0; i < 10; i++ {
		p.next(false)
	}
	assert.Equal(t, 8*time.Second, p.next(false))

	assert.Equal(t, time.Minute, p.next(true))
	assert.Equal(t, time.Second, p.next(false))
}

func TestProber_RunStopsOnCancel(t *testing.T) {
	m := NewMonitor()
	var checks atomic.Int32
	p := NewProber(m, CheckerFunc(func(context.Context) error {
		checks.Add(1)
		return nil
	}), 5*time.Millisecond, time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return checks.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.True(t, m.IsOnline())
}
