package host

import (
	"fmt"
	"math"

	"github.com/plexus-ml/plexus/internal/tensor"
)

// MaxPool2D is the host strategy for max pooling over NCHW maps, returning
// linear unpooling indices alongside the pooled map.
type MaxPool2D struct{}

// Forward pools by window maximum. The returned indices locate each window's
// maximum in the flattened input and follow output order, so
// indices[k] answers "where did output element k come from". Forward fails
// when a window contains no finite value: that window recovers no index and
// the count no longer matches the output size.
func (MaxPool2D) Forward(x *tensor.Dense, pool, stride, padding [2]int) (*tensor.Dense, []int, error) {
	xs := x.Shape()
	if len(xs) != 4 {
		return nil, nil, fmt.Errorf("maxpool2d: want 4D input, got %v", xs)
	}
	n, c, h, w := xs[0], xs[1], xs[2], xs[3]
	ho, wo := convOutputDims(h, w, pool[0], pool[1], stride, padding)
	if ho <= 0 || wo <= 0 {
		return nil, nil, fmt.Errorf("maxpool2d: invalid output dims %dx%d", ho, wo)
	}

	z := tensor.Zeros(tensor.Shape{n, c, ho, wo})
	xd, zd := x.Float32s(), z.Float32s()
	indices := make([]int, 0, z.NumElements())

	out := 0
	for in := 0; in < n; in++ {
		for ic := 0; ic < c; ic++ {
			for oh := 0; oh < ho; oh++ {
				for ow := 0; ow < wo; ow++ {
					best := float32(math.Inf(-1))
					bestIdx := -1
					for ih := 0; ih < pool[0]; ih++ {
						row := oh*stride[0] + ih - padding[0]
						if row < 0 || row >= h {
							continue
						}
						for iw := 0; iw < pool[1]; iw++ {
							col := ow*stride[1] + iw - padding[1]
							if col < 0 || col >= w {
								continue
							}
							idx := ((in*c+ic)*h+row)*w + col
							v := xd[idx]
							if math.IsNaN(float64(v)) {
								continue
							}
							if bestIdx < 0 || v > best {
								best = v
								bestIdx = idx
							}
						}
					}
					if bestIdx >= 0 {
						zd[out] = best
						indices = append(indices, bestIdx)
					}
					out++
				}
			}
		}
	}

	if len(indices) != z.NumElements() {
		return nil, nil, fmt.Errorf("maxpool2d: recovered %d unpooling indices for %d outputs (window with no finite values)",
			len(indices), z.NumElements())
	}
	return z, indices, nil
}

// Backward routes each output gradient to the input element its window
// maximum came from. Overlapping windows accumulate.
func (MaxPool2D) Backward(x *tensor.Dense, indices []int, dz *tensor.Dense) (*tensor.Dense, error) {
	if len(indices) != dz.NumElements() {
		return nil, fmt.Errorf("maxpool2d: %d indices for %d gradients", len(indices), dz.NumElements())
	}
	dx := tensor.Zeros(x.Shape())
	dxd, dzd := dx.Float32s(), dz.Float32s()
	for k, idx := range indices {
		dxd[idx] += dzd[k]
	}
	return dx, nil
}

// AvgPool2D is the host strategy for mean pooling over NCHW maps. Padded
// positions count toward the divisor (window size is fixed).
type AvgPool2D struct{}

// Forward pools by window mean.
func (AvgPool2D) Forward(x *tensor.Dense, pool, stride, padding [2]int) (*tensor.Dense, error) {
	xs := x.Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("avgpool2d: want 4D input, got %v", xs)
	}
	n, c, h, w := xs[0], xs[1], xs[2], xs[3]
	ho, wo := convOutputDims(h, w, pool[0], pool[1], stride, padding)
	if ho <= 0 || wo <= 0 {
		return nil, fmt.Errorf("avgpool2d: invalid output dims %dx%d", ho, wo)
	}

	z := tensor.Zeros(tensor.Shape{n, c, ho, wo})
	xd, zd := x.Float32s(), z.Float32s()
	area := float32(pool[0] * pool[1])

	out := 0
	for in := 0; in < n; in++ {
		for ic := 0; ic < c; ic++ {
			for oh := 0; oh < ho; oh++ {
				for ow := 0; ow < wo; ow++ {
					var sum float32
					for ih := 0; ih < pool[0]; ih++ {
						row := oh*stride[0] + ih - padding[0]
						if row < 0 || row >= h {
							continue
						}
						for iw := 0; iw < pool[1]; iw++ {
							col := ow*stride[1] + iw - padding[1]
							if col < 0 || col >= w {
								continue
							}
							sum += xd[((in*c+ic)*h+row)*w+col]
						}
					}
					zd[out] = sum / area
					out++
				}
			}
		}
	}
	return z, nil
}

// Backward spreads each output gradient uniformly over its window.
func (AvgPool2D) Backward(x, dz *tensor.Dense, pool, stride, padding [2]int) (*tensor.Dense, error) {
	xs, zs := x.Shape(), dz.Shape()
	n, c, h, w := xs[0], xs[1], xs[2], xs[3]
	ho, wo := zs[2], zs[3]

	dx := tensor.Zeros(xs)
	dxd, dzd := dx.Float32s(), dz.Float32s()
	area := float32(pool[0] * pool[1])

	out := 0
	for in := 0; in < n; in++ {
		for ic := 0; ic < c; ic++ {
			for oh := 0; oh < ho; oh++ {
				for ow := 0; ow < wo; ow++ {
					g := dzd[out] / area
					out++
					for ih := 0; ih < pool[0]; ih++ {
						row := oh*stride[0] + ih - padding[0]
						if row < 0 || row >= h {
							continue
						}
						for iw := 0; iw < pool[1]; iw++ {
							col := ow*stride[1] + iw - padding[1]
							if col < 0 || col >= w {
								continue
							}
							dxd[((in*c+ic)*h+row)*w+col] += g
						}
					}
				}
			}
		}
	}
	return dx, nil
}
