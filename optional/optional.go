// Package optional provides a value which may or may not be set. It replaces
// the "-1 means not found" idiom for things like queue family indexes.
package optional

// Optional holds a value of type T and remembers whether it was ever set.
// The zero value is an empty Optional.
type Optional[T any] struct {
	value T
	set   bool
}

// Of returns an Optional which holds v.
func Of[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// Set stores v in the optional.
func (o *Optional[T]) Set(v T) {
	o.value = v
	o.set = true
}

// HasValue returns true if a value has been set.
func (o Optional[T]) HasValue() bool {
	return o.set
}

// Get returns the stored value. It panics when there is no value, callers are
// expected to check HasValue first or use Lookup.
func (o Optional[T]) Get() T {
	if !o.set {
		panic("optional: Get called on an empty value")
	}
	return o.value
}

// Lookup returns the stored value and whether it was set.
func (o Optional[T]) Lookup() (T, bool) {
	return o.value, o.set
}

// Reset empties the optional.
func (o *Optional[T]) Reset() {
	var zero T
	o.value = zero
	o.set = false
}
