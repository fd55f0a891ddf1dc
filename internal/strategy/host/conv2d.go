package host

import (
	"fmt"

	"github.com/plexus-ml/plexus/internal/parallel"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// Conv2D is the host strategy for 2D cross-correlation over NCHW maps.
// Direct loops, batch*filter parallel on the forward pass; padding is
// symmetric per spatial axis.
type Conv2D struct{}

func convOutputDims(h, w, kh, kw int, stride, padding [2]int) (int, int) {
	ho := (h+2*padding[0]-kh)/stride[0] + 1
	wo := (w+2*padding[1]-kw)/stride[1] + 1
	return ho, wo
}

// Forward computes Z[n,f,i,j] = sum_c,kh,kw X[n,c,...]*W[f,c,kh,kw] + b[f].
func (Conv2D) Forward(x, w, b *tensor.Dense, stride, padding [2]int) (*tensor.Dense, error) {
	xs, ws := x.Shape(), w.Shape()
	if len(xs) != 4 || len(ws) != 4 {
		return nil, fmt.Errorf("conv2d: want 4D x and w, got %v and %v", xs, ws)
	}
	n, c, h, wd := xs[0], xs[1], xs[2], xs[3]
	f, ck, kh, kw := ws[0], ws[1], ws[2], ws[3]
	if ck != c {
		return nil, fmt.Errorf("conv2d: input channels %d != kernel channels %d", c, ck)
	}
	ho, wo := convOutputDims(h, wd, kh, kw, stride, padding)
	if ho <= 0 || wo <= 0 {
		return nil, fmt.Errorf("conv2d: invalid output dims %dx%d for input %dx%d kernel %dx%d", ho, wo, h, wd, kh, kw)
	}

	z := tensor.Zeros(tensor.Shape{n, f, ho, wo})
	xd, wdat, zd := x.Float32s(), w.Float32s(), z.Float32s()
	var bias []float32
	if b != nil {
		bias = b.Float32s()
	}

	// Each (observation, filter) pair writes a disjoint output tile.
	parallel.ForBatch(n, f, func(in, of int) {
		var b0 float32
		if bias != nil {
			b0 = bias[of]
		}
		for oh := 0; oh < ho; oh++ {
			for ow := 0; ow < wo; ow++ {
				sum := b0
				for ic := 0; ic < c; ic++ {
					for ih := 0; ih < kh; ih++ {
						row := oh*stride[0] + ih - padding[0]
						if row < 0 || row >= h {
							continue
						}
						for iw := 0; iw < kw; iw++ {
							col := ow*stride[1] + iw - padding[1]
							if col < 0 || col >= wd {
								continue
							}
							sum += xd[((in*c+ic)*h+row)*wd+col] *
								wdat[((of*c+ic)*kh+ih)*kw+iw]
						}
					}
				}
				zd[((in*f+of)*ho+oh)*wo+ow] = sum
			}
		}
	}, parallel.DefaultConfig())
	return z, nil
}

// Backward scatters dZ through the kernel for dX and, when requested,
// accumulates dW and dB.
func (Conv2D) Backward(x, w, dz *tensor.Dense, stride, padding [2]int, needWeightGrads bool) (*tensor.Dense, *tensor.Dense, *tensor.Dense, error) {
	xs, ws, zs := x.Shape(), w.Shape(), dz.Shape()
	n, c, h, wd := xs[0], xs[1], xs[2], xs[3]
	f, _, kh, kw := ws[0], ws[1], ws[2], ws[3]
	ho, wo := zs[2], zs[3]
	if zs[0] != n || zs[1] != f {
		return nil, nil, nil, fmt.Errorf("conv2d: gradient shape %v does not match output", zs)
	}

	dx := tensor.Zeros(xs)
	xd, wdat := x.Float32s(), w.Float32s()
	dzd, dxd := dz.Float32s(), dx.Float32s()

	var dwd, dbd []float32
	var dw, db *tensor.Dense
	if needWeightGrads {
		dw = tensor.Zeros(ws)
		db = tensor.Zeros(tensor.Shape{f})
		dwd, dbd = dw.Float32s(), db.Float32s()
	}

	for in := 0; in < n; in++ {
		for of := 0; of < f; of++ {
			for oh := 0; oh < ho; oh++ {
				for ow := 0; ow < wo; ow++ {
					g := dzd[((in*f+of)*ho+oh)*wo+ow]
					if needWeightGrads {
						dbd[of] += g
					}
					for ic := 0; ic < c; ic++ {
						for ih := 0; ih < kh; ih++ {
							row := oh*stride[0] + ih - padding[0]
							if row < 0 || row >= h {
								continue
							}
							for iw := 0; iw < kw; iw++ {
								col := ow*stride[1] + iw - padding[1]
								if col < 0 || col >= wd {
									continue
								}
								dxd[((in*c+ic)*h+row)*wd+col] += g * wdat[((of*c+ic)*kh+ih)*kw+iw]
								if needWeightGrads {
									dwd[((of*c+ic)*kh+ih)*kw+iw] += g * xd[((in*c+ic)*h+row)*wd+col]
								}
							}
						}
					}
				}
			}
		}
	}
	return dx, dw, db, nil
}
