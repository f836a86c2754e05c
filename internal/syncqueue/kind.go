package syncqueue

import "sync"

// Kind names the ledger mutation an operation carries.
type Kind string

const (
	KindCredit   Kind = "credit"
	KindDebit    Kind = "debit"
	KindXP       Kind = "xp"
	KindStreak   Kind = "streak"
	KindPurchase Kind = "purchase"
)

// Kinds lists every operation kind.
var Kinds = []Kind{KindCredit, KindDebit, KindXP, KindStreak, KindPurchase}

// Enqueuer is the narrow side of the queue the ledgers depend on.
// payload is marshalled immediately; later changes to it are not seen.
type Enqueuer interface {
	Enqueue(kind Kind, payload any) (string, error)
}

// Recorder is an in-memory Enqueuer for tests and dry runs.
type Recorder struct {
	mu  sync.Mutex
	Ops []RecordedOp
	Err error
}

// RecordedOp is one operation captured by a Recorder.
type RecordedOp struct {
	Kind    Kind
	Payload any
}

func (r *Recorder) Enqueue(kind Kind, payload any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	r.Ops = append(r.Ops, RecordedOp{Kind: kind, Payload: payload})
	return "", nil
}

// Count returns how many operations of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, op := range r.Ops {
		if op.Kind == kind {
			n++
		}
	}
	return n
}
