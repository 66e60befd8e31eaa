package access

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Facility identifies a tenant site under which roles and pages are scoped.
type Facility string

const (
	FacilityRCC Facility = "RCC"
	FacilityISC Facility = "ISC"
)

var facilities = []Facility{FacilityRCC, FacilityISC}

// Facilities returns every known facility in canonical order.
func Facilities() []Facility {
	out := make([]Facility, len(facilities))
	copy(out, facilities)
	return out
}

// ParseFacility converts raw input into a known Facility.
func ParseFacility(raw string) (Facility, error) {
	candidate := Facility(strings.ToUpper(strings.TrimSpace(raw)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFacility, raw)
}

// Valid reports whether f is one of the known facilities.
func (f Facility) Valid() bool {
	for _, known := range facilities {
		if f == known {
			return true
		}
	}
	return false
}

func (f Facility) String() string {
	return string(f)
}

// Role is a coarse permission class.
type Role string

const (
	RoleGuest       Role = "guest"
	RoleHousekeeper Role = "housekeeper"
	RoleAdmin       Role = "admin"
	RoleSuperadmin  Role = "superadmin"
)

var gatedRoles = []Role{RoleGuest, RoleHousekeeper, RoleAdmin}

// GatedRoles returns the roles subject to the page matrix in listing order.
func GatedRoles() []Role {
	out := make([]Role, len(gatedRoles))
	copy(out, gatedRoles)
	return out
}

// ParseRole converts raw input into a known Role.
func ParseRole(raw string) (Role, error) {
	candidate := Role(strings.ToLower(strings.TrimSpace(raw)))
	if candidate == RoleSuperadmin || candidate.Gated() {
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

// Gated reports whether the role is governed by permission entries.
// Superadmin is never gated.
func (r Role) Gated() bool {
	return r.rank() >= 0
}

func (r Role) String() string {
	return string(r)
}

func (r Role) rank() int {
	for i, known := range gatedRoles {
		if r == known {
			return i
		}
	}
	return -1
}

// PermissionEntry is the durable gate for one (facility, role, page) triple.
type PermissionEntry struct {
	ID        uuid.UUID `json:"id"`
	Facility  Facility  `json:"facility"`
	Role      Role      `json:"role"`
	PageName  string    `json:"page_name"`
	IsEnabled bool      `json:"is_enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claims is the decoded identity of a caller. Facility is empty when the
// credential carried none; superadmin claims never carry one.
type Claims struct {
	Subject  string
	Role     Role
	Facility Facility
}

// HasFacility reports whether the claims are scoped to a known facility.
func (c Claims) HasFacility() bool {
	return c.Facility.Valid()
}

// IsSuperadmin reports whether the caller administers the gate itself.
func (c Claims) IsSuperadmin() bool {
	return c.Role == RoleSuperadmin
}

// NormalizePage trims a page identifier. Page names are case sensitive.
func NormalizePage(page string) string {
	return strings.TrimSpace(page)
}

// sortEntries orders entries by role (guest, housekeeper, admin) and then by
// page name.
func sortEntries(entries []PermissionEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := entries[i].Role.rank(), entries[j].Role.rank()
		if ri != rj {
			return ri < rj
		}
		return entries[i].PageName < entries[j].PageName
	})
}

func validateTriple(facility Facility, role Role, page string) error {
	if !facility.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidEntry, ErrUnknownFacility, facility)
	}
	if !role.Gated() {
		return fmt.Errorf("%w: role %q is not gated", ErrInvalidEntry, role)
	}
	if NormalizePage(page) == "" {
		return fmt.Errorf("%w: page name required", ErrInvalidEntry)
	}
	return nil
}
