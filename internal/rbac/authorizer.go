// Package rbac authorizes the administrative surface of the portal: who may
// read or change the page matrix itself. Page-level gating of the portal's
// features lives in package access.
package rbac

import (
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Objects guarded by the administrative policy.
const (
	ObjectPermissionMatrix = "permissions.matrix"
	ObjectPermissionSelf   = "permissions.self"
	ObjectJobs             = "jobs"
)

// Actions checked against the objects.
const (
	ActionRead  = "read"
	ActionWrite = "write"
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

// DefaultPolicy grants the matrix to superadmin and self-inspection to every
// authenticated role.
var DefaultPolicy = [][]string{
	{"role:superadmin", ObjectPermissionMatrix, ActionRead},
	{"role:superadmin", ObjectPermissionMatrix, ActionWrite},
	{"role:superadmin", ObjectJobs, ActionRead},
	{"role:superadmin", ObjectPermissionSelf, ActionRead},
	{"role:admin", ObjectPermissionSelf, ActionRead},
	{"role:housekeeper", ObjectPermissionSelf, ActionRead},
	{"role:guest", ObjectPermissionSelf, ActionRead},
}

// Authorizer evaluates (role, object, action) requests with casbin.
type Authorizer struct {
	enforcer *casbin.Enforcer
}

// NewAuthorizer builds an Authorizer loaded with policy. A nil policy loads
// DefaultPolicy.
func NewAuthorizer(policy [][]string) (*Authorizer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("rbac: model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("rbac: enforcer: %w", err)
	}
	if policy == nil {
		policy = DefaultPolicy
	}
	if len(policy) > 0 {
		if _, err := enforcer.AddPolicies(policy); err != nil {
			return nil, fmt.Errorf("rbac: load policy: %w", err)
		}
	}
	return &Authorizer{enforcer: enforcer}, nil
}

// SubjectFromRole maps a role name to its policy subject.
func SubjectFromRole(role string) string {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		role = "anonymous"
	}
	return "role:" + role
}

// Authorize reports whether role may perform action on object.
func (a *Authorizer) Authorize(role, object, action string) (bool, error) {
	if a == nil || a.enforcer == nil {
		return false, errors.New("rbac: authorizer not configured")
	}
	return a.enforcer.Enforce(SubjectFromRole(role), object, action)
}
