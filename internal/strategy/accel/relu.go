package accel

import (
	"github.com/plexus-ml/plexus/internal/device"
	"github.com/plexus-ml/plexus/internal/strategy/host"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// ReLU dispatches the forward pass to the device kernel. The backward pass is
// a masked copy driven by the input already held on the host, so it stays on
// the host path.
type ReLU struct {
	ctx      *device.Context
	fallback host.ReLU
}

func NewReLU(ctx *device.Context) *ReLU {
	return &ReLU{ctx: ctx}
}

func (r *ReLU) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	z, err := run1(r.ctx, x, r.ctx.ReLU)
	if err != nil {
		return r.fallback.Forward(x)
	}
	return z, nil
}

func (r *ReLU) Backward(x, z, dz *tensor.Dense) (*tensor.Dense, error) {
	return r.fallback.Backward(x, z, dz)
}
