// Package domain provides core domain types shared across modules.
package domain

import "fmt"

// TenantScope identifies whose data a query operates on. It is either the
// global scope (single-tenant deployments, user_id stored as NULL) or a
// specific tenant. Repositories take a scope instead of branching on
// nullable ids; resolution from the request happens once at the HTTP
// boundary.
type TenantScope struct {
	userID int64
	tenant bool
}

// GlobalScope returns the scope used by single-tenant deployments.
func GlobalScope() TenantScope {
	return TenantScope{}
}

// ScopeForUser returns the scope owning rows of a single tenant.
func ScopeForUser(userID int64) TenantScope {
	return TenantScope{userID: userID, tenant: true}
}

// IsGlobal reports whether the scope is the global (single-tenant) scope.
func (s TenantScope) IsGlobal() bool {
	return !s.tenant
}

// UserID returns the tenant id and whether one is set.
func (s TenantScope) UserID() (int64, bool) {
	return s.userID, s.tenant
}

// Owns reports whether a row with the given owner column value belongs to
// the scope. Global-scope rows store a NULL owner.
func (s TenantScope) Owns(owner *int64) bool {
	if !s.tenant {
		return owner == nil
	}
	return owner != nil && *owner == s.userID
}

// Filter returns a SQL condition matching rows owned by the scope, plus the
// arguments it binds. The column is the owner column of the queried table.
func (s TenantScope) Filter(column string) (string, []interface{}) {
	if !s.tenant {
		return column + " IS NULL", nil
	}
	return column + " = ?", []interface{}{s.userID}
}

// Value returns the value to store in an owner column for rows created
// under this scope: nil for the global scope, the tenant id otherwise.
func (s TenantScope) Value() interface{} {
	if !s.tenant {
		return nil
	}
	return s.userID
}

// String renders the scope for logging.
func (s TenantScope) String() string {
	if !s.tenant {
		return "global"
	}
	return fmt.Sprintf("user:%d", s.userID)
}
