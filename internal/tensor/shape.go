package tensor

import "fmt"

// Shape represents the dimensions of an array.
//
// A nil Shape is the invalid-size sentinel used by shape propagation: a
// layer that cannot compute its output size from its inputs reports nil
// rather than failing, so the analyzer can keep walking the graph.
type Shape []int

// NumElements returns the total number of elements.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // scalar
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that every dimension is positive.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// IsValid reports whether the shape is a usable size: non-nil with all
// dimensions positive.
func (s Shape) IsValid() bool {
	if s == nil {
		return false
	}
	for _, dim := range s {
		if dim <= 0 {
			return false
		}
	}
	return true
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// PadTrailing returns the shape right-padded with singleton dimensions to
// length n. Shapes already at least n long are returned unchanged. Used
// when comparing sizes of different rank (concatenation inputs).
func (s Shape) PadTrailing(n int) Shape {
	if len(s) >= n {
		return s
	}
	padded := make(Shape, n)
	copy(padded, s)
	for i := len(s); i < n; i++ {
		padded[i] = 1
	}
	return padded
}

// ComputeStrides calculates row-major strides for the shape.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}
	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// String formats the shape as, for example, "[28 28 1]".
func (s Shape) String() string {
	return fmt.Sprintf("%v", []int(s))
}
