package shared

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in permission_audit_logs.
type AuditLog struct {
	Actor     string
	ActorRole string
	Action    string
	Entity    string
	EntityID  string
	Meta      map[string]any
	At        time.Time
}

// AuditRecorder persists audit records.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into permission_audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	occurred := pgtype.Timestamptz{}
	if !log.At.IsZero() {
		occurred = pgtype.Timestamptz{Time: log.At, Valid: true}
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO permission_audit_logs (actor, actor_role, action, entity, entity_id, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		log.Actor, log.ActorRole, log.Action, log.Entity, log.EntityID, metaJSON, occurred)
	return err
}

// MemoryAuditLogger keeps audit records in memory.
type MemoryAuditLogger struct {
	mu      sync.Mutex
	entries []AuditLog
}

// NewMemoryAuditLogger returns an empty MemoryAuditLogger.
func NewMemoryAuditLogger() *MemoryAuditLogger {
	return &MemoryAuditLogger{}
}

// Record appends the log entry.
func (l *MemoryAuditLogger) Record(_ context.Context, log AuditLog) error {
	if err := log.validate(); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, log)
	return nil
}

// Entries returns a copy of the recorded entries in insertion order.
func (l *MemoryAuditLogger) Entries() []AuditLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditLog, len(l.entries))
	copy(out, l.entries)
	return out
}

func (log AuditLog) validate() error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

var (
	_ AuditRecorder = (*AuditLogger)(nil)
	_ AuditRecorder = (*MemoryAuditLogger)(nil)
)
