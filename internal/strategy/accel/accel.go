// Package accel implements accelerator-resident execution strategies on top
// of internal/device. Operations with a device kernel (element-wise
// combination, ReLU) dispatch on the accelerator; any device failure —
// including an out-of-memory condition that survives the staged recovery —
// falls back to the host reference numerics, which by contract produce the
// same results up to floating-point associativity.
//
// Layer kinds without a device kernel run the shared reference numerics
// directly; their accelerator benefit is the warm parameter caches kept by
// internal/param.
package accel

import (
	"github.com/plexus-ml/plexus/internal/device"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// run uploads the operands, executes k, and downloads the result. Any error
// is returned so the caller can fall back to host execution.
func run1(ctx *device.Context, x *tensor.Dense, k func(in, out *device.Array) error) (*tensor.Dense, error) {
	in, err := ctx.Upload(x.Float32s())
	if err != nil {
		return nil, err
	}
	defer in.Release()

	out, err := ctx.AllocateWithRecovery(x.NumElements())
	if err != nil {
		return nil, err
	}
	defer out.Release()

	if err := k(in, out); err != nil {
		return nil, err
	}
	data, err := out.Download()
	if err != nil {
		return nil, err
	}
	return tensor.FromSlice(data, x.Shape())
}

func run2(ctx *device.Context, a, b *tensor.Dense, k func(x, y, out *device.Array) error) (*tensor.Dense, error) {
	da, err := ctx.Upload(a.Float32s())
	if err != nil {
		return nil, err
	}
	defer da.Release()

	db, err := ctx.Upload(b.Float32s())
	if err != nil {
		return nil, err
	}
	defer db.Release()

	out, err := ctx.AllocateWithRecovery(a.NumElements())
	if err != nil {
		return nil, err
	}
	defer out.Release()

	if err := k(da, db, out); err != nil {
		return nil, err
	}
	data, err := out.Download()
	if err != nil {
		return nil, err
	}
	return tensor.FromSlice(data, a.Shape())
}
