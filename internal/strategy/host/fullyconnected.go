// Package host implements the reference (host) execution strategies. These
// carry the authoritative numerics: accelerator strategies are required to
// match them up to floating-point associativity.
package host

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/plexus-ml/plexus/internal/tensor"
)

// FullyConnected is the host strategy for dense layers. The GEMMs go through
// gonum's float32 BLAS.
type FullyConnected struct{}

func general(rows, cols int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

// Forward computes Z = X*W^T + b. X is [N, D], W is [H, D], b is [H].
func (FullyConnected) Forward(x, w, b *tensor.Dense) (*tensor.Dense, error) {
	xs, ws := x.Shape(), w.Shape()
	if len(xs) != 2 || len(ws) != 2 {
		return nil, fmt.Errorf("fullyconnected: want 2D x and w, got %v and %v", xs, ws)
	}
	n, d := xs[0], xs[1]
	h := ws[0]
	if ws[1] != d {
		return nil, fmt.Errorf("fullyconnected: input size %d does not match weights %v", d, ws)
	}

	z := tensor.Zeros(tensor.Shape{n, h})
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		general(n, d, x.Float32s()),
		general(h, d, w.Float32s()),
		0, general(n, h, z.Float32s()))

	if b != nil {
		bias := b.Float32s()
		zd := z.Float32s()
		for i := 0; i < n; i++ {
			row := zd[i*h : (i+1)*h]
			for j := range row {
				row[j] += bias[j]
			}
		}
	}
	return z, nil
}

// Backward computes dX = dZ*W and, when requested, dW = dZ^T*X and the bias
// gradient as column sums of dZ.
func (FullyConnected) Backward(x, w, dz *tensor.Dense, needWeightGrads bool) (*tensor.Dense, *tensor.Dense, *tensor.Dense, error) {
	xs, ws, zs := x.Shape(), w.Shape(), dz.Shape()
	n, d := xs[0], xs[1]
	h := ws[0]
	if zs[0] != n || zs[1] != h {
		return nil, nil, nil, fmt.Errorf("fullyconnected: gradient shape %v does not match output [%d %d]", zs, n, h)
	}

	dx := tensor.Zeros(tensor.Shape{n, d})
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		general(n, h, dz.Float32s()),
		general(h, d, w.Float32s()),
		0, general(n, d, dx.Float32s()))

	if !needWeightGrads {
		return dx, nil, nil, nil
	}

	dw := tensor.Zeros(tensor.Shape{h, d})
	blas32.Gemm(blas.Trans, blas.NoTrans, 1,
		general(n, h, dz.Float32s()),
		general(n, d, x.Float32s()),
		0, general(h, d, dw.Float32s()))

	db := tensor.Zeros(tensor.Shape{h})
	dbd := db.Float32s()
	dzd := dz.Float32s()
	for i := 0; i < n; i++ {
		for j := 0; j < h; j++ {
			dbd[j] += dzd[i*h+j]
		}
	}
	return dx, dw, db, nil
}
