package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Submit(t *testing.T) {
	var got Submission
	var key, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/settle", r.URL.Path)
		key = r.Header.Get("Idempotency-Key")
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(Verdict{
			Accepted:      true,
			Authoritative: &Balances{Balance: 90, TotalEarned: 100, TotalSpent: 10},
		})
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL+"/", "secret", time.Second)
	require.NoError(t, err)

	v, err := c.Submit(context.Background(), Submission{
		OperationID: "op-1",
		Kind:        "debit",
		Payload:     json.RawMessage(`{"amount":10}`),
	})
	require.NoError(t, err)
	assert.True(t, v.Accepted)
	require.NotNil(t, v.Authoritative)
	assert.Equal(t, int64(90), v.Authoritative.Balance)

	assert.Equal(t, "op-1", key)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "debit", got.Kind)
	assert.JSONEq(t, `{"amount":10}`, string(got.Payload))
}

func TestHTTPClient_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"accepted":false}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, "", time.Second)
	require.NoError(t, err)

	v, err := c.Submit(context.Background(), Submission{OperationID: "op-2"})
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	assert.Equal(t, "rejected", v.Reason)
}

func TestHTTPClient_ServerErrorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.Submit(context.Background(), Submission{OperationID: "op-3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := NewHTTPClient(srv.URL, "", 50*time.Millisecond)
	_, err := c.Submit(context.Background(), Submission{OperationID: "op-4"})
	assert.Error(t, err)
}

func TestHTTPClient_HealthURL(t *testing.T) {
	c, err := NewHTTPClient("https://api.example.test/", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.test/healthz", c.HealthURL())
	assert.Equal(t, "https://api.example.test/status", c.WithHealthPath("status").HealthURL())

	_, err = NewHTTPClient("", "", 0)
	assert.Error(t, err)
}

func TestOffline(t *testing.T) {
	_, err := Offline{}.Submit(context.Background(), Submission{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
