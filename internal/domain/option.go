package domain

import (
	"bytes"
	"encoding/json"
)

// Option is either a present value or an excluded slot. Loci that are
// excluded by the caller or untyped for a subject are carried as Excluded
// through expansion, likelihood and match calculation.
type Option[T any] struct {
	value   T
	present bool
}

// Present wraps a value
func Present[T any](v T) Option[T] {
	return Option[T]{value: v, present: true}
}

// Excluded returns an empty option
func Excluded[T any]() Option[T] {
	return Option[T]{}
}

// Get returns the value and whether it is present
func (o Option[T]) Get() (T, bool) {
	return o.value, o.present
}

// IsPresent reports whether a value is held
func (o Option[T]) IsPresent() bool {
	return o.present
}

// OrElse returns the value, or fallback when excluded
func (o Option[T]) OrElse(fallback T) T {
	if o.present {
		return o.value
	}
	return fallback
}

// MapOption applies fn to a present value
func MapOption[T, U any](o Option[T], fn func(T) U) Option[U] {
	if !o.present {
		return Excluded[U]()
	}
	return Present(fn(o.value))
}

// MarshalJSON encodes an excluded option as null
func (o Option[T]) MarshalJSON() ([]byte, error) {
	if !o.present {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON decodes null as excluded
func (o *Option[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Excluded[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Present(v)
	return nil
}
