package host

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/plexus-ml/plexus/internal/strategy"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// LSTM is the host strategy for a single-direction LSTM over [N, D, T]
// sequences. Weights use contiguous gate blocks of height H in the fixed
// order input, forget, cell candidate, output. Gate pre-activations are
// computed with gonum's float32 BLAS on per-timestep packed matrices.
type LSTM struct{}

type lstmDims struct {
	n, d, t, h int
}

func lstmGeometry(x *tensor.Dense, w strategy.LSTMWeights) (lstmDims, error) {
	xs := x.Shape()
	if len(xs) != 3 {
		return lstmDims{}, fmt.Errorf("lstm: want 3D input [N, D, T], got %v", xs)
	}
	ws, rs := w.W.Shape(), w.R.Shape()
	if len(ws) != 2 || len(rs) != 2 {
		return lstmDims{}, fmt.Errorf("lstm: want 2D weights, got %v and %v", ws, rs)
	}
	h := rs[1]
	if ws[0] != strategy.NumGates*h || rs[0] != strategy.NumGates*h {
		return lstmDims{}, fmt.Errorf("lstm: weight rows %d/%d do not match %d gate blocks of %d", ws[0], rs[0], strategy.NumGates, h)
	}
	if ws[1] != xs[1] {
		return lstmDims{}, fmt.Errorf("lstm: input size %d does not match weights %v", xs[1], ws)
	}
	return lstmDims{n: xs[0], d: xs[1], t: xs[2], h: h}, nil
}

// packStep copies timestep t of a [N, D, T] tensor into a contiguous [N, D]
// buffer.
func packStep(x *tensor.Dense, t int, out []float32) {
	xs := x.Shape()
	n, d, tt := xs[0], xs[1], xs[2]
	xd := x.Float32s()
	for in := 0; in < n; in++ {
		for id := 0; id < d; id++ {
			out[in*d+id] = xd[(in*d+id)*tt+t]
		}
	}
}

// scatterStep adds a contiguous [N, D] buffer into timestep t of a
// [N, D, T] tensor.
func scatterStep(dst *tensor.Dense, t int, src []float32) {
	ds := dst.Shape()
	n, d, tt := ds[0], ds[1], ds[2]
	dd := dst.Float32s()
	for in := 0; in < n; in++ {
		for id := 0; id < d; id++ {
			dd[(in*d+id)*tt+t] += src[in*d+id]
		}
	}
}

func sigmoidf(v float32) float32 {
	return 1 / (1 + float32(math.Exp(float64(-v))))
}

func tanhf(v float32) float32 {
	return float32(math.Tanh(float64(v)))
}

// Forward runs the recurrence and returns [N, H, T] plus the per-timestep
// gate activations and cell states backward needs. Memory slices are indexed
// by absolute timestep, not processing order. h0 and c0 hold one initial
// value per hidden unit, shared across the batch; nil means zeros.
func (LSTM) Forward(x *tensor.Dense, w strategy.LSTMWeights, h0, c0 []float32, reverse bool) (*tensor.Dense, *strategy.LSTMMemory, error) {
	dims, err := lstmGeometry(x, w)
	if err != nil {
		return nil, nil, err
	}
	n, d, t, h := dims.n, dims.d, dims.t, dims.h

	y := tensor.Zeros(tensor.Shape{n, h, t})
	mem := &strategy.LSTMMemory{
		InputGate:  make([]*tensor.Dense, t),
		ForgetGate: make([]*tensor.Dense, t),
		CellCand:   make([]*tensor.Dense, t),
		OutputGate: make([]*tensor.Dense, t),
		CellState:  make([]*tensor.Dense, t),
		Hidden:     make([]*tensor.Dense, t),
	}

	hPrev := make([]float32, n*h)
	cPrev := make([]float32, n*h)
	for in := 0; in < n; in++ {
		for ih := 0; ih < h; ih++ {
			if h0 != nil {
				hPrev[in*h+ih] = h0[ih]
			}
			if c0 != nil {
				cPrev[in*h+ih] = c0[ih]
			}
		}
	}

	xt := make([]float32, n*d)
	gates := make([]float32, n*strategy.NumGates*h)
	bias := w.Bias.Float32s()

	for step := 0; step < t; step++ {
		ts := step
		if reverse {
			ts = t - 1 - step
		}
		packStep(x, ts, xt)

		// gates = xt*W^T + hPrev*R^T + bias
		blas32.Gemm(blas.NoTrans, blas.Trans, 1,
			general(n, d, xt),
			general(strategy.NumGates*h, d, w.W.Float32s()),
			0, general(n, strategy.NumGates*h, gates))
		blas32.Gemm(blas.NoTrans, blas.Trans, 1,
			general(n, h, hPrev),
			general(strategy.NumGates*h, h, w.R.Float32s()),
			1, general(n, strategy.NumGates*h, gates))

		ig := tensor.Zeros(tensor.Shape{n, h})
		fg := tensor.Zeros(tensor.Shape{n, h})
		zg := tensor.Zeros(tensor.Shape{n, h})
		og := tensor.Zeros(tensor.Shape{n, h})
		cs := tensor.Zeros(tensor.Shape{n, h})
		hs := tensor.Zeros(tensor.Shape{n, h})
		igd, fgd, zgd, ogd := ig.Float32s(), fg.Float32s(), zg.Float32s(), og.Float32s()
		csd, hsd := cs.Float32s(), hs.Float32s()

		yd := y.Float32s()
		for in := 0; in < n; in++ {
			row := gates[in*strategy.NumGates*h : (in+1)*strategy.NumGates*h]
			for ih := 0; ih < h; ih++ {
				iv := sigmoidf(row[strategy.GateInput*h+ih] + bias[strategy.GateInput*h+ih])
				fv := sigmoidf(row[strategy.GateForget*h+ih] + bias[strategy.GateForget*h+ih])
				zv := tanhf(row[strategy.GateCell*h+ih] + bias[strategy.GateCell*h+ih])
				ov := sigmoidf(row[strategy.GateOutput*h+ih] + bias[strategy.GateOutput*h+ih])

				cv := fv*cPrev[in*h+ih] + iv*zv
				hv := ov * tanhf(cv)

				igd[in*h+ih] = iv
				fgd[in*h+ih] = fv
				zgd[in*h+ih] = zv
				ogd[in*h+ih] = ov
				csd[in*h+ih] = cv
				hsd[in*h+ih] = hv
				yd[(in*h+ih)*t+ts] = hv
			}
		}

		mem.InputGate[ts] = ig
		mem.ForgetGate[ts] = fg
		mem.CellCand[ts] = zg
		mem.OutputGate[ts] = og
		mem.CellState[ts] = cs
		mem.Hidden[ts] = hs

		copy(hPrev, hsd)
		copy(cPrev, csd)
	}

	return y, mem, nil
}

// Backward propagates dY through time. Gradients for W, R, and the bias are
// skipped unless needWeightGrads is set.
func (LSTM) Backward(x *tensor.Dense, w strategy.LSTMWeights, dy *tensor.Dense, mem *strategy.LSTMMemory, reverse, needWeightGrads bool) (*tensor.Dense, strategy.LSTMWeights, error) {
	dims, err := lstmGeometry(x, w)
	if err != nil {
		return nil, strategy.LSTMWeights{}, err
	}
	n, d, t, h := dims.n, dims.d, dims.t, dims.h
	if !dy.Shape().Equal(tensor.Shape{n, h, t}) {
		return nil, strategy.LSTMWeights{}, fmt.Errorf("lstm: gradient shape %v does not match output [%d %d %d]", dy.Shape(), n, h, t)
	}

	dx := tensor.Zeros(x.Shape())
	var dW, dR, dB *tensor.Dense
	if needWeightGrads {
		dW = tensor.Zeros(w.W.Shape())
		dR = tensor.Zeros(w.R.Shape())
		dB = tensor.Zeros(w.Bias.Shape())
	}

	dyd := dy.Float32s()
	dhNext := make([]float32, n*h)
	dcNext := make([]float32, n*h)
	dGates := make([]float32, n*strategy.NumGates*h)
	dxt := make([]float32, n*d)
	xt := make([]float32, n*d)
	hPrev := make([]float32, n*h)

	// Walk timesteps in the reverse of forward processing order.
	for step := t - 1; step >= 0; step-- {
		ts := step
		prev := ts - 1
		if reverse {
			ts = t - 1 - step
			prev = ts + 1
		}

		ig := mem.InputGate[ts].Float32s()
		fg := mem.ForgetGate[ts].Float32s()
		zg := mem.CellCand[ts].Float32s()
		og := mem.OutputGate[ts].Float32s()
		cs := mem.CellState[ts].Float32s()

		var cPrev []float32
		if prev >= 0 && prev < t {
			cPrev = mem.CellState[prev].Float32s()
			hPrevT := mem.Hidden[prev].Float32s()
			copy(hPrev, hPrevT)
		} else {
			cPrev = nil
			for i := range hPrev {
				hPrev[i] = 0
			}
		}

		for in := 0; in < n; in++ {
			for ih := 0; ih < h; ih++ {
				k := in*h + ih
				dh := dyd[(in*h+ih)*t+ts] + dhNext[k]
				tc := tanhf(cs[k])

				do := dh * tc
				dc := dh*og[k]*(1-tc*tc) + dcNext[k]

				var cp float32
				if cPrev != nil {
					cp = cPrev[k]
				}
				df := dc * cp
				di := dc * zg[k]
				dzc := dc * ig[k]

				row := dGates[in*strategy.NumGates*h : (in+1)*strategy.NumGates*h]
				row[strategy.GateInput*h+ih] = di * ig[k] * (1 - ig[k])
				row[strategy.GateForget*h+ih] = df * fg[k] * (1 - fg[k])
				row[strategy.GateCell*h+ih] = dzc * (1 - zg[k]*zg[k])
				row[strategy.GateOutput*h+ih] = do * og[k] * (1 - og[k])

				dcNext[k] = dc * fg[k]
			}
		}

		// dxt = dGates * W; dhNext = dGates * R
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			general(n, strategy.NumGates*h, dGates),
			general(strategy.NumGates*h, d, w.W.Float32s()),
			0, general(n, d, dxt))
		scatterStep(dx, ts, dxt)

		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
			general(n, strategy.NumGates*h, dGates),
			general(strategy.NumGates*h, h, w.R.Float32s()),
			0, general(n, h, dhNext))

		if needWeightGrads {
			packStep(x, ts, xt)
			blas32.Gemm(blas.Trans, blas.NoTrans, 1,
				general(n, strategy.NumGates*h, dGates),
				general(n, d, xt),
				1, general(strategy.NumGates*h, d, dW.Float32s()))
			blas32.Gemm(blas.Trans, blas.NoTrans, 1,
				general(n, strategy.NumGates*h, dGates),
				general(n, h, hPrev),
				1, general(strategy.NumGates*h, h, dR.Float32s()))
			dbd := dB.Float32s()
			for in := 0; in < n; in++ {
				row := dGates[in*strategy.NumGates*h : (in+1)*strategy.NumGates*h]
				for j := range row {
					dbd[j] += row[j]
				}
			}
		}
	}

	return dx, strategy.LSTMWeights{W: dW, R: dR, Bias: dB}, nil
}
