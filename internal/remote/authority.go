// Package remote defines the contract with the settlement server and an HTTP
// client for it. The server is authoritative: an accepted verdict may carry
// balances that overwrite the local currency ledger.
package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnavailable is returned when no remote is configured.
var ErrUnavailable = errors.New("remote: authority unavailable")

// Submission is one queued operation sent for settlement. The server
// deduplicates by OperationID.
type Submission struct {
	OperationID string          `json:"operationId"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
}

// Balances are authoritative currency values.
type Balances struct {
	Balance     int64 `json:"balance"`
	TotalEarned int64 `json:"totalEarned"`
	TotalSpent  int64 `json:"totalSpent"`
}

// Verdict is the server's answer. Only Accepted removes an operation from the
// queue.
type Verdict struct {
	Accepted      bool      `json:"accepted"`
	Reason        string    `json:"reason,omitempty"`
	Authoritative *Balances `json:"authoritative,omitempty"`
}

// Authority settles operations.
type Authority interface {
	Submit(ctx context.Context, sub Submission) (Verdict, error)
}

// Offline is the authority used when no remote is configured. Every
// submission fails, so operations stay queued.
type Offline struct{}

func (Offline) Submit(ctx context.Context, sub Submission) (Verdict, error) {
	return Verdict{}, ErrUnavailable
}

// AuthorityFunc adapts a function to Authority.
type AuthorityFunc func(ctx context.Context, sub Submission) (Verdict, error)

func (f AuthorityFunc) Submit(ctx context.Context, sub Submission) (Verdict, error) {
	return f(ctx, sub)
}
