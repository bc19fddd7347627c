package permission

// Set is a de-duplicated permission set bound to the registry that produced it.
// The zero Set is empty.
type Set struct {
	registry *Registry
	mask     Mask64
}

// Has reports whether the named permission is present.
func (s Set) Has(name string) bool {
	if s.registry == nil {
		return false
	}
	bit, ok := s.registry.Bit(name)
	if !ok {
		return false
	}
	return s.mask.Has(bit)
}

// HasAll reports whether every named permission is present.
func (s Set) HasAll(names ...string) bool {
	for _, name := range names {
		if !s.Has(name) {
			return false
		}
	}
	return true
}

// Mask returns the underlying bitmask.
func (s Set) Mask() Mask64 { return s.mask }

// Empty reports whether no permission is set.
func (s Set) Empty() bool { return s.mask == 0 }

// String encodes the set as a space separated scope string in registration order.
func (s Set) String() string {
	if s.registry == nil || s.mask == 0 {
		return ""
	}
	return s.registry.format(s.mask)
}
