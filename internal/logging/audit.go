package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES - economy events worth reconstructing after the fact
// =============================================================================

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Ledger mutations
	AuditCredit      AuditEventType = "credit"
	AuditDebit       AuditEventType = "debit"
	AuditDebitDenied AuditEventType = "debit_denied"
	AuditLevelUp     AuditEventType = "level_up"
	AuditStreak      AuditEventType = "streak"

	// Shop
	AuditPurchase       AuditEventType = "purchase"
	AuditPurchaseFailed AuditEventType = "purchase_failed"

	// Reconciliation
	AuditSettled       AuditEventType = "settled"
	AuditServerWins    AuditEventType = "server_overwrite"
	AuditSyncRetry     AuditEventType = "sync_retry"
	AuditSyncPurged    AuditEventType = "sync_purged"
	AuditStateReset    AuditEventType = "state_reset"
	AuditStateMigrated AuditEventType = "state_migrated"
)

// AuditEvent represents one structured audit line.
type AuditEvent struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	EventType AuditEventType         `json:"event"`
	Category  string                 `json:"cat"`
	Target    string                 `json:"target,omitempty"` // item id, operation id, slice name
	Amount    int64                  `json:"amount,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger writes audit events scoped to a category.
type AuditLogger struct {
	category Category
}

// InitAudit opens the audit trail. No-op outside debug mode.
func InitAudit() error {
	if !IsDebugMode() || logsDir == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.jsonl", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditFor returns an audit logger that stamps events with category.
func AuditFor(category Category) *AuditLogger {
	return &AuditLogger{category: category}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}
	data, err := json.Marshal(event)
	if err == nil {
		auditFile.Write(append(data, '\n'))
	}
}

// =============================================================================
// CONVENIENCE METHODS
// =============================================================================

// LedgerChange records a credit/debit style mutation.
func (a *AuditLogger) LedgerChange(event AuditEventType, amount int64, balance int64, reason string) {
	a.Log(AuditEvent{
		EventType: event,
		Amount:    amount,
		Success:   event != AuditDebitDenied,
		Target:    reason,
		Fields:    map[string]interface{}{"balance": balance},
	})
}

// Purchase records the outcome of a purchase attempt.
func (a *AuditLogger) Purchase(itemID string, price int64, err error) {
	ev := AuditEvent{
		EventType: AuditPurchase,
		Target:    itemID,
		Amount:    price,
		Success:   err == nil,
	}
	if err != nil {
		ev.EventType = AuditPurchaseFailed
		ev.Error = err.Error()
	}
	a.Log(ev)
}

// SyncOutcome records a settled, retried or purged sync operation.
func (a *AuditLogger) SyncOutcome(event AuditEventType, operationID, kind string, retries int, errMsg string) {
	a.Log(AuditEvent{
		EventType: event,
		Target:    operationID,
		Success:   event == AuditSettled,
		Error:     errMsg,
		Fields:    map[string]interface{}{"kind": kind, "retries": retries},
	})
}

// StateEvent records a persistence reset or migration of one slice.
func (a *AuditLogger) StateEvent(event AuditEventType, slice string, detail string) {
	a.Log(AuditEvent{
		EventType: event,
		Target:    slice,
		Success:   event == AuditStateMigrated,
		Error:     detail,
	})
}
