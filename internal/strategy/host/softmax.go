package host

import (
	"fmt"
	"math"

	"github.com/plexus-ml/plexus/internal/tensor"
)

// zFloor bounds softmax outputs away from exact zero in backward so the
// dZ - sum(Z*dZ) term can never multiply 0 by Inf. Smallest normal float32.
const zFloor float32 = 1.1754944e-38

// Softmax is the host strategy for softmax along the class axis (axis 1).
// Trailing dimensions (time steps, spatial positions) are independent.
type Softmax struct{}

// Forward computes Z = exp(X - max(X)) / sum(exp(X - max(X))) per position.
func (Softmax) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	n, c, m, err := channelGeometry(x.Shape())
	if err != nil {
		return nil, fmt.Errorf("softmax: %w", err)
	}

	z := tensor.Zeros(x.Shape())
	xd, zd := x.Float32s(), z.Float32s()

	for in := 0; in < n; in++ {
		for k := 0; k < m; k++ {
			// Max over the class axis for stability.
			maxV := float32(math.Inf(-1))
			for ic := 0; ic < c; ic++ {
				if v := xd[(in*c+ic)*m+k]; v > maxV {
					maxV = v
				}
			}
			var sum float32
			for ic := 0; ic < c; ic++ {
				e := float32(math.Exp(float64(xd[(in*c+ic)*m+k] - maxV)))
				zd[(in*c+ic)*m+k] = e
				sum += e
			}
			for ic := 0; ic < c; ic++ {
				zd[(in*c+ic)*m+k] /= sum
			}
		}
	}
	return z, nil
}

// Backward computes dX = Z * (dZ - sum(Z*dZ)) along the class axis, bounding
// Z away from exact zero first.
func (Softmax) Backward(z, dz *tensor.Dense) (*tensor.Dense, error) {
	if !z.Shape().Equal(dz.Shape()) {
		return nil, fmt.Errorf("softmax: output shape %v != gradient shape %v", z.Shape(), dz.Shape())
	}
	n, c, m, err := channelGeometry(z.Shape())
	if err != nil {
		return nil, fmt.Errorf("softmax: %w", err)
	}

	dx := tensor.Zeros(z.Shape())
	zd, dzd, dxd := z.Float32s(), dz.Float32s(), dx.Float32s()

	for in := 0; in < n; in++ {
		for k := 0; k < m; k++ {
			var dot float32
			for ic := 0; ic < c; ic++ {
				zv := zd[(in*c+ic)*m+k]
				if zv < zFloor {
					zv = zFloor
				}
				dot += zv * dzd[(in*c+ic)*m+k]
			}
			for ic := 0; ic < c; ic++ {
				zv := zd[(in*c+ic)*m+k]
				if zv < zFloor {
					zv = zFloor
				}
				dxd[(in*c+ic)*m+k] = zv * (dzd[(in*c+ic)*m+k] - dot)
			}
		}
	}
	return dx, nil
}
