package seats

import "github.com/dkeye/Stage/internal/domain"

// Authorizer decides which actors may use privileged seat operations.
type Authorizer interface {
	CanOverride(actor domain.Actor) bool
	CanForce(actor domain.Actor) bool
	CanBan(actor domain.Actor) bool
	CanClear(actor domain.Actor) bool
}

// RolePolicy grants every privileged operation to a fixed set of roles.
type RolePolicy struct {
	Roles []string
}

func (p RolePolicy) CanOverride(a domain.Actor) bool { return a.HasRole(p.Roles) }
func (p RolePolicy) CanForce(a domain.Actor) bool    { return a.HasRole(p.Roles) }
func (p RolePolicy) CanBan(a domain.Actor) bool      { return a.HasRole(p.Roles) }
func (p RolePolicy) CanClear(a domain.Actor) bool    { return a.HasRole(p.Roles) }
