package notify

// Optional is a tri-state transition parameter: absent (preserve the
// stored value), explicit null (clear the column), or a value. The zero
// value is absent, so callers only mention the fields they mean to touch.
//
// The distinction matters because a transition must leave unspecified
// auxiliary fields untouched while still being able to clear retry_at or
// error explicitly.
type Optional[T any] struct {
	present bool
	null    bool
	value   T
}

// Set returns an Optional carrying a value.
func Set[T any](v T) Optional[T] {
	return Optional[T]{present: true, value: v}
}

// Clear returns an Optional carrying an explicit null.
func Clear[T any]() Optional[T] {
	return Optional[T]{present: true, null: true}
}

// Present reports whether the field was supplied at all.
func (o Optional[T]) Present() bool { return o.present }

// Null reports whether the field was supplied as an explicit null.
func (o Optional[T]) Null() bool { return o.present && o.null }

// Value returns the carried value. Only meaningful when Present and not
// Null.
func (o Optional[T]) Value() T { return o.value }

// Arg renders the optional as a SQL argument: the value, or nil for an
// explicit null. Only meaningful when Present.
func (o Optional[T]) Arg() any {
	if o.null {
		return nil
	}
	return o.value
}
