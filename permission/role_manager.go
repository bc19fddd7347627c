package permission

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownRole is returned when expanding a role that was never registered.
var ErrUnknownRole = errors.New("unknown role")

// Built-in permission and role names.
const (
	PermPublic    = "public"
	PermWriteUser = "write:user"
	PermUserView  = "user.view"

	RoleUnverified = "unverified"
	RoleMember     = "member"
	RoleAdmin      = "admin"
)

// RoleManager holds the static role to permission mapping.
//
// RoleManager instances are intended to be configured during initialization and then treated as immutable.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]Mask64
	frozen bool
}

// NewRoleManager creates an empty role table over registry.
func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]Mask64),
	}
}

// RegisterRole binds roleName to the given permissions, all of which must
// already be registered.
func (rm *RoleManager) RegisterRole(roleName string, permissionNames []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return errors.New("role manager frozen")
	}

	if roleName == "" {
		return errors.New("role name empty")
	}

	if _, exists := rm.roles[roleName]; exists {
		return errors.New("role already registered")
	}

	mask, err := rm.registry.MaskOf(permissionNames...)
	if err != nil {
		return fmt.Errorf("role %q: %w", roleName, err)
	}

	rm.roles[roleName] = mask
	return nil
}

// Mask returns the permission mask of roleName.
func (rm *RoleManager) Mask(roleName string) (Mask64, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	mask, ok := rm.roles[roleName]
	return mask, ok
}

// Expand unions the masks of roles into a [Set].
func (rm *RoleManager) Expand(roles ...string) (Set, error) {
	var mask Mask64
	for _, role := range roles {
		m, ok := rm.Mask(role)
		if !ok {
			return Set{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
		mask = mask.Union(m)
	}
	return rm.registry.NewSet(mask), nil
}

// Registry returns the registry the roles are expressed in.
func (rm *RoleManager) Registry() *Registry {
	return rm.registry
}

// Freeze prevents further role registrations.
func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

// Count returns the number of registered roles.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}

// DefaultRoles returns a frozen registry and role table with the built-in
// permissions: unverified accounts get public, members add write:user and
// admins add user.view.
func DefaultRoles() (*RoleManager, error) {
	registry := NewRegistry()
	for _, name := range []string{PermPublic, PermWriteUser, PermUserView} {
		if _, err := registry.Register(name); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	rm := NewRoleManager(registry)
	table := map[string][]string{
		RoleUnverified: {PermPublic},
		RoleMember:     {PermPublic, PermWriteUser},
		RoleAdmin:      {PermPublic, PermWriteUser, PermUserView},
	}
	for role, perms := range table {
		if err := rm.RegisterRole(role, perms); err != nil {
			return nil, err
		}
	}
	rm.Freeze()
	return rm, nil
}
