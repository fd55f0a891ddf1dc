package host

import (
	"fmt"
	"math/rand"

	"github.com/plexus-ml/plexus/internal/tensor"
)

// Dropout is the host strategy for inverted dropout: kept activations are
// scaled by 1/(1-rate) during training so prediction needs no rescaling.
type Dropout struct{}

// Forward zeroes each element with probability rate and returns the applied
// mask as forward memory.
func (Dropout) Forward(x *tensor.Dense, rate float64, rng *rand.Rand) (*tensor.Dense, *tensor.Dense, error) {
	if rate < 0 || rate >= 1 {
		return nil, nil, fmt.Errorf("dropout: rate %v outside [0, 1)", rate)
	}
	z := tensor.Zeros(x.Shape())
	mask := tensor.Zeros(x.Shape())
	xd, zd, md := x.Float32s(), z.Float32s(), mask.Float32s()

	keep := float32(1 / (1 - rate))
	for i := range xd {
		if rng.Float64() >= rate {
			md[i] = keep
			zd[i] = xd[i] * keep
		}
	}
	return z, mask, nil
}

// Backward reapplies the forward mask to the incoming gradient.
func (Dropout) Backward(mask, dz *tensor.Dense) (*tensor.Dense, error) {
	if !mask.Shape().Equal(dz.Shape()) {
		return nil, fmt.Errorf("dropout: mask shape %v != gradient shape %v", mask.Shape(), dz.Shape())
	}
	dx := tensor.Zeros(dz.Shape())
	md, dzd, dxd := mask.Float32s(), dz.Float32s(), dx.Float32s()
	for i := range dzd {
		dxd[i] = dzd[i] * md[i]
	}
	return dx, nil
}
