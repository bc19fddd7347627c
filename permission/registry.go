package permission

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const maxBits = 64

// ErrUnknownPermission is returned when a scope string names an unregistered permission.
var ErrUnknownPermission = errors.New("unknown permission")

// Registry maps permission names to bit positions within a [Mask64].
//
//	Docs: docs/permission.md
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates an empty permission [Registry].
func NewRegistry() *Registry {
	return &Registry{
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
	}
}

// Register assigns the next available bit to the named permission.
// Returns the assigned bit index. Must be called before [Registry.Freeze].
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}

	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return -1, errors.New("permission name must be a non-empty token")
	}

	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("permission already registered")
	}

	nextBit := len(r.nameToBit)
	if nextBit >= maxBits {
		return -1, errors.New("permission limit exceeded")
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name

	return nextBit, nil
}

// Bit returns the bit index for the named permission, or false if not registered.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the permission name for the given bit index, or false if unassigned.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// MaskOf builds a mask from permission names.
func (r *Registry) MaskOf(names ...string) (Mask64, error) {
	var mask Mask64
	for _, name := range names {
		bit, ok := r.Bit(name)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownPermission, name)
		}
		mask.Set(bit)
	}
	return mask, nil
}

// NewSet wraps mask as a [Set] bound to r.
func (r *Registry) NewSet(mask Mask64) Set {
	return Set{registry: r, mask: mask}
}

// ParseScope decodes a space separated scope string. Repeated whitespace is
// tolerated; an unregistered token fails the parse.
func (r *Registry) ParseScope(scope string) (Set, error) {
	mask, err := r.MaskOf(strings.Fields(scope)...)
	if err != nil {
		return Set{}, err
	}
	return r.NewSet(mask), nil
}

func (r *Registry) format(mask Mask64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.bitToName))
	for bit := 0; bit < len(r.bitToName); bit++ {
		if mask.Has(bit) {
			names = append(names, r.bitToName[bit])
		}
	}
	return strings.Join(names, " ")
}
