package types

import "iter"

// MaybeVec holds zero, one or many values. The single-value case does
// not allocate a slice. It is an in-process container and is never
// serialized.
type MaybeVec[T any] struct {
	one  T
	many []T
	n    uint8 // 0 empty, 1 one, 2 many
}

// None returns an empty MaybeVec.
func None[T any]() MaybeVec[T] { return MaybeVec[T]{} }

// One wraps a single value.
func One[T any](v T) MaybeVec[T] { return MaybeVec[T]{one: v, n: 1} }

// Many wraps a slice. The slice is not copied.
func Many[T any](vs []T) MaybeVec[T] { return MaybeVec[T]{many: vs, n: 2} }

// FromSlice picks the cheapest representation for vs.
func FromSlice[T any](vs []T) MaybeVec[T] {
	switch len(vs) {
	case 0:
		return None[T]()
	case 1:
		return One(vs[0])
	default:
		return Many(vs)
	}
}

// Len returns the number of values.
func (m MaybeVec[T]) Len() int {
	switch m.n {
	case 1:
		return 1
	case 2:
		return len(m.many)
	}
	return 0
}

// IsEmpty reports whether m holds no values.
func (m MaybeVec[T]) IsEmpty() bool { return m.Len() == 0 }

// At returns the i-th value. It panics if i is out of range.
func (m MaybeVec[T]) At(i int) T {
	if m.n == 1 {
		if i != 0 {
			panic("types: MaybeVec index out of range")
		}
		return m.one
	}
	return m.many[i]
}

// All iterates over the values in order.
func (m MaybeVec[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for i := 0; i < m.Len(); i++ {
			if !yield(m.At(i)) {
				return
			}
		}
	}
}

// Slice returns the values as a slice. For the Many case the backing
// slice is returned as is.
func (m MaybeVec[T]) Slice() []T {
	switch m.n {
	case 1:
		return []T{m.one}
	case 2:
		return m.many
	}
	return nil
}
