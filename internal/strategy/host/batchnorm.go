package host

import (
	"fmt"
	"math"

	"github.com/plexus-ml/plexus/internal/strategy"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// BatchNorm is the host strategy for batch normalization. The channel axis
// is axis 1; everything else (batch, spatial, time) is reduced over.
type BatchNorm struct{}

// channelGeometry views any [N, C, ...] shape as [N, C, M].
func channelGeometry(s tensor.Shape) (n, c, m int, err error) {
	if len(s) < 2 {
		return 0, 0, 0, fmt.Errorf("batchnorm: want at least 2D input, got %v", s)
	}
	n, c, m = s[0], s[1], 1
	for _, d := range s[2:] {
		m *= d
	}
	return n, c, m, nil
}

// ForwardTrain normalizes with batch statistics and returns them (plus the
// normalized activations) as memory for backward and for running-statistic
// accumulation.
func (BatchNorm) ForwardTrain(x, gamma, beta *tensor.Dense, epsilon float64) (*tensor.Dense, *strategy.BatchNormMemory, error) {
	n, c, m, err := channelGeometry(x.Shape())
	if err != nil {
		return nil, nil, err
	}
	count := float64(n * m)

	xd := x.Float32s()
	mean := make([]float32, c)
	variance := make([]float32, c)
	invStd := make([]float32, c)

	for ic := 0; ic < c; ic++ {
		var sum float64
		for in := 0; in < n; in++ {
			base := (in*c + ic) * m
			for k := 0; k < m; k++ {
				sum += float64(xd[base+k])
			}
		}
		mu := sum / count

		var sq float64
		for in := 0; in < n; in++ {
			base := (in*c + ic) * m
			for k := 0; k < m; k++ {
				d := float64(xd[base+k]) - mu
				sq += d * d
			}
		}
		v := sq / count
		mean[ic] = float32(mu)
		variance[ic] = float32(v)
		invStd[ic] = float32(1 / math.Sqrt(v+epsilon))
	}

	z := tensor.Zeros(x.Shape())
	xhat := tensor.Zeros(x.Shape())
	zd, xh := z.Float32s(), xhat.Float32s()
	g, b := gamma.Float32s(), beta.Float32s()

	for in := 0; in < n; in++ {
		for ic := 0; ic < c; ic++ {
			base := (in*c + ic) * m
			for k := 0; k < m; k++ {
				h := (xd[base+k] - mean[ic]) * invStd[ic]
				xh[base+k] = h
				zd[base+k] = g[ic]*h + b[ic]
			}
		}
	}

	return z, &strategy.BatchNormMemory{Mean: mean, InvStd: invStd, Var: variance, XHat: xhat}, nil
}

// ForwardPredict normalizes with the stored running statistics.
func (BatchNorm) ForwardPredict(x, gamma, beta *tensor.Dense, mean, variance []float32, epsilon float64) (*tensor.Dense, error) {
	n, c, m, err := channelGeometry(x.Shape())
	if err != nil {
		return nil, err
	}
	if len(mean) != c || len(variance) != c {
		return nil, fmt.Errorf("batchnorm: running statistics have %d channels, input has %d", len(mean), c)
	}

	z := tensor.Zeros(x.Shape())
	xd, zd := x.Float32s(), z.Float32s()
	g, b := gamma.Float32s(), beta.Float32s()

	for ic := 0; ic < c; ic++ {
		inv := float32(1 / math.Sqrt(float64(variance[ic])+epsilon))
		for in := 0; in < n; in++ {
			base := (in*c + ic) * m
			for k := 0; k < m; k++ {
				zd[base+k] = g[ic]*(xd[base+k]-mean[ic])*inv + b[ic]
			}
		}
	}
	return z, nil
}

// Backward computes dX from the saved batch statistics, plus the scale and
// offset gradients when requested.
func (BatchNorm) Backward(dz, gamma *tensor.Dense, mem *strategy.BatchNormMemory, needWeightGrads bool) (*tensor.Dense, *tensor.Dense, *tensor.Dense, error) {
	n, c, m, err := channelGeometry(dz.Shape())
	if err != nil {
		return nil, nil, nil, err
	}
	count := float32(n * m)

	dzd := dz.Float32s()
	xh := mem.XHat.Float32s()
	g := gamma.Float32s()

	// Per-channel reductions used by both dX and the weight gradients.
	sumDz := make([]float32, c)
	sumDzXh := make([]float32, c)
	for in := 0; in < n; in++ {
		for ic := 0; ic < c; ic++ {
			base := (in*c + ic) * m
			for k := 0; k < m; k++ {
				sumDz[ic] += dzd[base+k]
				sumDzXh[ic] += dzd[base+k] * xh[base+k]
			}
		}
	}

	dx := tensor.Zeros(dz.Shape())
	dxd := dx.Float32s()
	for in := 0; in < n; in++ {
		for ic := 0; ic < c; ic++ {
			base := (in*c + ic) * m
			scale := g[ic] * mem.InvStd[ic] / count
			for k := 0; k < m; k++ {
				dxd[base+k] = scale * (count*dzd[base+k] - sumDz[ic] - xh[base+k]*sumDzXh[ic])
			}
		}
	}

	if !needWeightGrads {
		return dx, nil, nil, nil
	}
	dgamma, _ := tensor.FromSlice(sumDzXh, tensor.Shape{c})
	dbeta, _ := tensor.FromSlice(sumDz, tensor.Shape{c})
	return dx, dgamma, dbeta, nil
}
