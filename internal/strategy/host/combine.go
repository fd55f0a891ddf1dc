package host

import (
	"fmt"

	"github.com/plexus-ml/plexus/internal/tensor"
)

// Combine merges two equally shaped operands element-wise.
type Combine struct{}

func (Combine) Add(a, b *tensor.Dense) (*tensor.Dense, error) {
	if !a.Shape().Equal(b.Shape()) {
		return nil, fmt.Errorf("combine: add: shape mismatch %v vs %v", a.Shape(), b.Shape())
	}
	z := tensor.Zeros(a.Shape())
	ad, bd, zd := a.Float32s(), b.Float32s(), z.Float32s()
	for i := range ad {
		zd[i] = ad[i] + bd[i]
	}
	return z, nil
}

func (Combine) Multiply(a, b *tensor.Dense) (*tensor.Dense, error) {
	if !a.Shape().Equal(b.Shape()) {
		return nil, fmt.Errorf("combine: multiply: shape mismatch %v vs %v", a.Shape(), b.Shape())
	}
	z := tensor.Zeros(a.Shape())
	ad, bd, zd := a.Float32s(), b.Float32s(), z.Float32s()
	for i := range ad {
		zd[i] = ad[i] * bd[i]
	}
	return z, nil
}
