package host

import (
	"math"

	"github.com/plexus-ml/plexus/internal/tensor"
)

// Element-wise activation strategies. Each keeps only what its backward pass
// needs: ReLU-family gradients come from the input, tanh/sigmoid gradients
// from the output.

// ReLU computes max(0, x).
type ReLU struct{}

func (ReLU) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	z := tensor.Zeros(x.Shape())
	xd, zd := x.Float32s(), z.Float32s()
	for i, v := range xd {
		if v > 0 {
			zd[i] = v
		}
	}
	return z, nil
}

func (ReLU) Backward(x, _, dz *tensor.Dense) (*tensor.Dense, error) {
	dx := tensor.Zeros(x.Shape())
	xd, dzd, dxd := x.Float32s(), dz.Float32s(), dx.Float32s()
	for i, v := range xd {
		if v > 0 {
			dxd[i] = dzd[i]
		}
	}
	return dx, nil
}

// LeakyReLU computes x for x > 0 and Scale*x otherwise.
type LeakyReLU struct {
	Scale float32
}

func (a LeakyReLU) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	z := tensor.Zeros(x.Shape())
	xd, zd := x.Float32s(), z.Float32s()
	for i, v := range xd {
		if v > 0 {
			zd[i] = v
		} else {
			zd[i] = a.Scale * v
		}
	}
	return z, nil
}

func (a LeakyReLU) Backward(x, _, dz *tensor.Dense) (*tensor.Dense, error) {
	dx := tensor.Zeros(x.Shape())
	xd, dzd, dxd := x.Float32s(), dz.Float32s(), dx.Float32s()
	for i, v := range xd {
		if v > 0 {
			dxd[i] = dzd[i]
		} else {
			dxd[i] = a.Scale * dzd[i]
		}
	}
	return dx, nil
}

// ClippedReLU computes min(max(0, x), Ceiling).
type ClippedReLU struct {
	Ceiling float32
}

func (a ClippedReLU) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	z := tensor.Zeros(x.Shape())
	xd, zd := x.Float32s(), z.Float32s()
	for i, v := range xd {
		switch {
		case v <= 0:
		case v >= a.Ceiling:
			zd[i] = a.Ceiling
		default:
			zd[i] = v
		}
	}
	return z, nil
}

func (a ClippedReLU) Backward(x, _, dz *tensor.Dense) (*tensor.Dense, error) {
	dx := tensor.Zeros(x.Shape())
	xd, dzd, dxd := x.Float32s(), dz.Float32s(), dx.Float32s()
	for i, v := range xd {
		if v > 0 && v < a.Ceiling {
			dxd[i] = dzd[i]
		}
	}
	return dx, nil
}

// ELU computes x for x > 0 and Alpha*(exp(x)-1) otherwise.
type ELU struct {
	Alpha float32
}

func (a ELU) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	z := tensor.Zeros(x.Shape())
	xd, zd := x.Float32s(), z.Float32s()
	for i, v := range xd {
		if v > 0 {
			zd[i] = v
		} else {
			zd[i] = a.Alpha * float32(math.Expm1(float64(v)))
		}
	}
	return z, nil
}

// Backward uses the output: for x <= 0, dz * (z + alpha).
func (a ELU) Backward(x, z, dz *tensor.Dense) (*tensor.Dense, error) {
	dx := tensor.Zeros(x.Shape())
	xd, zd, dzd, dxd := x.Float32s(), z.Float32s(), dz.Float32s(), dx.Float32s()
	for i, v := range xd {
		if v > 0 {
			dxd[i] = dzd[i]
		} else {
			dxd[i] = dzd[i] * (zd[i] + a.Alpha)
		}
	}
	return dx, nil
}

// Tanh computes tanh(x).
type Tanh struct{}

func (Tanh) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	z := tensor.Zeros(x.Shape())
	xd, zd := x.Float32s(), z.Float32s()
	for i, v := range xd {
		zd[i] = float32(math.Tanh(float64(v)))
	}
	return z, nil
}

func (Tanh) Backward(_, z, dz *tensor.Dense) (*tensor.Dense, error) {
	dx := tensor.Zeros(z.Shape())
	zd, dzd, dxd := z.Float32s(), dz.Float32s(), dx.Float32s()
	for i := range zd {
		dxd[i] = dzd[i] * (1 - zd[i]*zd[i])
	}
	return dx, nil
}

// Sigmoid computes 1/(1+exp(-x)).
type Sigmoid struct{}

func (Sigmoid) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	z := tensor.Zeros(x.Shape())
	xd, zd := x.Float32s(), z.Float32s()
	for i, v := range xd {
		zd[i] = 1 / (1 + float32(math.Exp(float64(-v))))
	}
	return z, nil
}

func (Sigmoid) Backward(_, z, dz *tensor.Dense) (*tensor.Dense, error) {
	dx := tensor.Zeros(z.Shape())
	zd, dzd, dxd := z.Float32s(), dz.Float32s(), dx.Float32s()
	for i := range zd {
		dxd[i] = dzd[i] * zd[i] * (1 - zd[i])
	}
	return dx, nil
}
