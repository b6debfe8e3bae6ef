package colmena

import (
	"sync"
	"time"
)

// Audit event names recorded by the federation engine.
const (
	AuditContributionAccepted = "contribution_accepted"
	AuditContributionRejected = "contribution_rejected"
	AuditMetricsAccepted      = "metrics_accepted"
	AuditMetricsRejected      = "metrics_rejected"
	AuditAggregateReleased    = "aggregate_released"
	AuditRetentionPurge       = "retention_purge"
)

// AuditEntry records one privacy-relevant event. Entries carry the
// truncated segment prefix at most, never a full hash or raw
// parameters.
type AuditEntry struct {
	Event     string    `json:"event"`
	ModelType ModelType `json:"model_type,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// auditLogCapacity bounds the in-memory audit ring.
const auditLogCapacity = 1000

// AuditLog is a bounded in-memory log of privacy events. When full,
// the oldest entries are dropped.
type AuditLog struct {
	mu      sync.RWMutex
	entries []AuditEntry
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Record appends an entry, stamping it with the current time.
func (l *AuditLog) Record(event string, typ ModelType, detail string) AuditEntry {
	entry := AuditEntry{
		Event:     event,
		ModelType: typ,
		Detail:    detail,
		Timestamp: time.Now(),
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > auditLogCapacity {
		l.entries = l.entries[len(l.entries)-auditLogCapacity:]
	}
	l.mu.Unlock()

	return entry
}

// Entries returns a copy of the current entries, oldest first.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the number of retained entries.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
