package access

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/facilityops/housekeeping/internal/shared"
)

// Audit actions recorded for superadmin mutations.
const (
	AuditActionToggle  = "permission.toggle"
	AuditActionSet     = "permission.set"
	AuditActionBulkSet = "permission.bulk_set"
)

// MutationObserver receives mutation outcomes, typically for metrics.
type MutationObserver interface {
	ObserveMutation(op string, err error)
}

// MutationConfig collects dependencies of MutationService.
type MutationConfig struct {
	Store       Store
	Locker      Locker
	Broadcaster Broadcaster
	Audit       shared.AuditRecorder
	Observer    MutationObserver
	Logger      *slog.Logger
}

// MutationService applies administrative changes to the permission matrix.
// Writes are confirmed by the Store before any event is emitted.
type MutationService struct {
	store       Store
	locker      Locker
	broadcaster Broadcaster
	audit       shared.AuditRecorder
	observer    MutationObserver
	logger      *slog.Logger
}

// NewMutationService builds a MutationService. A nil Locker falls back to an
// in-process LocalLocker.
func NewMutationService(cfg MutationConfig) *MutationService {
	locker := cfg.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MutationService{
		store:       cfg.Store,
		locker:      locker,
		broadcaster: cfg.Broadcaster,
		audit:       cfg.Audit,
		observer:    cfg.Observer,
		logger:      logger,
	}
}

// Toggle flips the entry. Concurrent toggles of the same entry are
// serialised, so two toggles always flip twice.
func (s *MutationService) Toggle(ctx context.Context, actor Claims, id uuid.UUID) (PermissionEntry, error) {
	var updated PermissionEntry
	err := s.withLock(ctx, shared.PermissionEntryLockKey(id.String()), func() error {
		current, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		updated, err = s.store.SetEnabled(ctx, id, !current.IsEnabled)
		return err
	})
	s.observe("toggle", err)
	if err != nil {
		return PermissionEntry{}, persistenceError("toggle", err)
	}
	s.afterEntryWrite(ctx, actor, AuditActionToggle, updated)
	return updated, nil
}

// Set writes the entry to enabled. Safe to retry.
func (s *MutationService) Set(ctx context.Context, actor Claims, id uuid.UUID, enabled bool) (PermissionEntry, error) {
	var updated PermissionEntry
	err := s.withLock(ctx, shared.PermissionEntryLockKey(id.String()), func() error {
		var err error
		updated, err = s.store.SetEnabled(ctx, id, enabled)
		return err
	})
	s.observe("set", err)
	if err != nil {
		return PermissionEntry{}, persistenceError("set", err)
	}
	s.afterEntryWrite(ctx, actor, AuditActionSet, updated)
	return updated, nil
}

// BulkSetForRole writes enabled to every entry of (facility, role) and emits
// exactly one change event when the write commits.
func (s *MutationService) BulkSetForRole(ctx context.Context, actor Claims, facility Facility, role Role, enabled bool) (int, error) {
	if !facility.Valid() {
		return 0, fmt.Errorf("%w: %w: %q", ErrInvalidEntry, ErrUnknownFacility, facility)
	}
	if !role.Gated() {
		return 0, fmt.Errorf("%w: role %q is not gated", ErrInvalidEntry, role)
	}
	var count int
	err := s.withLock(ctx, shared.PermissionScopeLockKey(string(facility), string(role)), func() error {
		var err error
		count, err = s.store.SetEnabledBulk(ctx, facility, role, enabled)
		return err
	})
	s.observe("bulk_set", err)
	if err != nil {
		return 0, persistenceError("bulk set", err)
	}
	s.announce(ctx, facility, role)
	s.record(ctx, actor, AuditActionBulkSet, fmt.Sprintf("%s:%s", facility, role), map[string]any{
		"facility":   string(facility),
		"role":       string(role),
		"is_enabled": enabled,
		"updated":    count,
	})
	return count, nil
}

func (s *MutationService) withLock(ctx context.Context, key string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return persistenceError("acquire lock", err)
	}
	defer unlock()
	return fn()
}

func (s *MutationService) afterEntryWrite(ctx context.Context, actor Claims, action string, entry PermissionEntry) {
	s.announce(ctx, entry.Facility, entry.Role)
	s.record(ctx, actor, action, entry.ID.String(), map[string]any{
		"facility":   string(entry.Facility),
		"role":       string(entry.Role),
		"page_name":  entry.PageName,
		"is_enabled": entry.IsEnabled,
	})
}

func (s *MutationService) announce(ctx context.Context, facility Facility, role Role) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.Publish(ctx, NewChangeEvent(facility, role)); err != nil {
		s.logger.Warn("publish permission change",
			slog.String("facility", string(facility)),
			slog.String("role", string(role)),
			slog.Any("error", err))
	}
}

func (s *MutationService) record(ctx context.Context, actor Claims, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(context.WithoutCancel(ctx), shared.AuditLog{
		Actor:     actor.Subject,
		ActorRole: string(actor.Role),
		Action:    action,
		Entity:    "page_permission",
		EntityID:  entityID,
		Meta:      meta,
	})
	if err != nil {
		s.logger.Error("record permission audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *MutationService) observe(op string, err error) {
	if s.observer != nil {
		s.observer.ObserveMutation(op, err)
	}
}
