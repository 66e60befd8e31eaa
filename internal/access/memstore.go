package access

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entryKey struct {
	facility Facility
	role     Role
	page     string
}

// MemoryStore keeps permission entries in process memory. Every mutation
// holds the write lock for its whole duration, so bulk updates are atomic
// relative to readers.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]PermissionEntry
	byKey map[entryKey]uuid.UUID
	now   func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[uuid.UUID]PermissionEntry),
		byKey: make(map[entryKey]uuid.UUID),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the entry for the triple.
func (s *MemoryStore) Get(ctx context.Context, facility Facility, role Role, page string) (PermissionEntry, error) {
	if err := ctx.Err(); err != nil {
		return PermissionEntry{}, persistenceError("get entry", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[entryKey{facility: facility, role: role, page: NormalizePage(page)}]
	if !ok {
		return PermissionEntry{}, ErrNotFound
	}
	return s.byID[id], nil
}

// GetByID returns the entry with the given id.
func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (PermissionEntry, error) {
	if err := ctx.Err(); err != nil {
		return PermissionEntry{}, persistenceError("get entry", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byID[id]
	if !ok {
		return PermissionEntry{}, ErrNotFound
	}
	return entry, nil
}

// ListByFacility returns every entry of the facility grouped by role.
func (s *MemoryStore) ListByFacility(ctx context.Context, facility Facility) ([]PermissionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistenceError("list entries", err)
	}
	s.mu.RLock()
	entries := make([]PermissionEntry, 0, len(s.byID))
	for _, entry := range s.byID {
		if entry.Facility == facility {
			entries = append(entries, entry)
		}
	}
	s.mu.RUnlock()
	sortEntries(entries)
	return entries, nil
}

// UpsertSeed creates an enabled entry when the triple is absent.
func (s *MemoryStore) UpsertSeed(ctx context.Context, facility Facility, role Role, page string) (PermissionEntry, error) {
	if err := validateTriple(facility, role, page); err != nil {
		return PermissionEntry{}, err
	}
	if err := ctx.Err(); err != nil {
		return PermissionEntry{}, persistenceError("seed entry", err)
	}
	key := entryKey{facility: facility, role: role, page: NormalizePage(page)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		return s.byID[id], nil
	}
	entry := PermissionEntry{
		ID:        uuid.New(),
		Facility:  facility,
		Role:      role,
		PageName:  key.page,
		IsEnabled: true,
		UpdatedAt: s.now(),
	}
	s.byID[entry.ID] = entry
	s.byKey[key] = entry.ID
	return entry, nil
}

// SetEnabled writes the flag of a single entry.
func (s *MemoryStore) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (PermissionEntry, error) {
	if err := ctx.Err(); err != nil {
		return PermissionEntry{}, persistenceError("set entry", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.byID[id]
	if !ok {
		return PermissionEntry{}, ErrNotFound
	}
	entry.IsEnabled = enabled
	entry.UpdatedAt = s.now()
	s.byID[id] = entry
	return entry, nil
}

// SetEnabledBulk writes the flag of every entry in the (facility, role) scope.
func (s *MemoryStore) SetEnabledBulk(ctx context.Context, facility Facility, role Role, enabled bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, persistenceError("bulk set", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now()
	count := 0
	for id, entry := range s.byID {
		if entry.Facility != facility || entry.Role != role {
			continue
		}
		entry.IsEnabled = enabled
		entry.UpdatedAt = at
		s.byID[id] = entry
		count++
	}
	return count, nil
}

// Len reports the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

var _ Store = (*MemoryStore)(nil)
