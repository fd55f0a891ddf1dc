// Package strategy declares the execution-strategy contracts for layer
// forward/backward numerics. Exactly one host and one accelerator
// implementation exists per numerically distinct operation (internal/strategy/host,
// internal/strategy/accel); a layer holds one active strategy and swaps it
// through its setup hooks. Strategy selection is orthogonal to parameter
// values, and accelerator strategies produce results matching the host
// strategies up to floating-point associativity.
//
// Forward returns, besides the output, whatever intermediate values backward
// needs (pooling argmax indices, LSTM gate activations, batch statistics).
// Backward never recomputes them. When the caller does not need weight
// gradients (prediction-only paths), backward skips their computation.
package strategy

import (
	"math/rand"

	"github.com/plexus-ml/plexus/internal/tensor"
)

// FullyConnected computes Z = W*X + b over flattened features.
// X is [N, D], W is [H, D], b is [H], Z is [N, H].
type FullyConnected interface {
	Forward(x, w, b *tensor.Dense) (*tensor.Dense, error)
	// Backward returns dX and, when needWeightGrads is set, dW and dB
	// (nil otherwise).
	Backward(x, w, dz *tensor.Dense, needWeightGrads bool) (dx, dw, db *tensor.Dense, err error)
}

// Conv2D computes a 2D cross-correlation over NCHW maps.
// X is [N, C, H, W], W is [F, C, KH, KW], b is [F].
type Conv2D interface {
	Forward(x, w, b *tensor.Dense, stride, padding [2]int) (*tensor.Dense, error)
	Backward(x, w, dz *tensor.Dense, stride, padding [2]int, needWeightGrads bool) (dx, dw, db *tensor.Dense, err error)
}

// MaxPool2D pools NCHW maps and reports, per output element, the linear
// index into the flattened input of the window maximum. Indices follow
// output order. Forward fails when an entire window holds no finite value,
// because the recovered index count would no longer match the output size.
type MaxPool2D interface {
	Forward(x *tensor.Dense, pool, stride, padding [2]int) (z *tensor.Dense, indices []int, err error)
	Backward(x *tensor.Dense, indices []int, dz *tensor.Dense) (*tensor.Dense, error)
}

// AvgPool2D pools NCHW maps by window mean.
type AvgPool2D interface {
	Forward(x *tensor.Dense, pool, stride, padding [2]int) (*tensor.Dense, error)
	Backward(x, dz *tensor.Dense, pool, stride, padding [2]int) (*tensor.Dense, error)
}

// BatchNormMemory carries the batch statistics computed in forward-train.
type BatchNormMemory struct {
	Mean   []float32 // per channel
	InvStd []float32 // per channel, 1/sqrt(var+epsilon)
	Var    []float32 // per channel, population variance
	XHat   *tensor.Dense
}

// BatchNorm normalizes per channel (axis 1). Training mode uses batch
// statistics; prediction mode uses the stored running statistics.
type BatchNorm interface {
	ForwardTrain(x, gamma, beta *tensor.Dense, epsilon float64) (*tensor.Dense, *BatchNormMemory, error)
	ForwardPredict(x, gamma, beta *tensor.Dense, mean, variance []float32, epsilon float64) (*tensor.Dense, error)
	Backward(dz, gamma *tensor.Dense, mem *BatchNormMemory, needWeightGrads bool) (dx, dgamma, dbeta *tensor.Dense, err error)
}

// Softmax normalizes along the class axis (axis 1), with trailing dimensions
// treated as independent positions.
type Softmax interface {
	Forward(x *tensor.Dense) (*tensor.Dense, error)
	// Backward computes dX = Z*(dZ - sum(Z*dZ)) with Z bounded away from
	// exact zero first, so 0*Inf cannot occur.
	Backward(z, dz *tensor.Dense) (*tensor.Dense, error)
}

// Activation is an element-wise nonlinearity. Backward may use either the
// input or the output, whichever the specific function needs.
type Activation interface {
	Forward(x *tensor.Dense) (*tensor.Dense, error)
	Backward(x, z, dz *tensor.Dense) (*tensor.Dense, error)
}

// Dropout zeroes a random subset of activations while training. The mask is
// the forward memory; prediction is the identity.
type Dropout interface {
	Forward(x *tensor.Dense, rate float64, rng *rand.Rand) (z, mask *tensor.Dense, err error)
	Backward(mask, dz *tensor.Dense) (*tensor.Dense, error)
}

// LSTMWeights bundles one direction's weights. W is [4H, D], R is [4H, H],
// Bias is [4H]. Rows are laid out in contiguous gate blocks of height H in
// the fixed order input, forget, cell candidate, output (iInd, fInd, zInd,
// oInd).
type LSTMWeights struct {
	W    *tensor.Dense
	R    *tensor.Dense
	Bias *tensor.Dense
}

// LSTMMemory carries per-timestep gate activations and cell states from
// forward to backward. Each slice has one [N, H] entry per timestep.
type LSTMMemory struct {
	InputGate  []*tensor.Dense
	ForgetGate []*tensor.Dense
	CellCand   []*tensor.Dense
	OutputGate []*tensor.Dense
	CellState  []*tensor.Dense
	Hidden     []*tensor.Dense
}

// LSTM runs a single-direction recurrence over [N, D, T] sequences and
// returns [N, H, T]. Reverse processes timesteps from last to first
// (the backward half of a bidirectional layer). Bidirectional layers
// compose two LSTM calls and concatenate along the hidden axis.
type LSTM interface {
	Forward(x *tensor.Dense, w LSTMWeights, h0, c0 []float32, reverse bool) (*tensor.Dense, *LSTMMemory, error)
	Backward(x *tensor.Dense, w LSTMWeights, dy *tensor.Dense, mem *LSTMMemory, reverse, needWeightGrads bool) (dx *tensor.Dense, dw LSTMWeights, err error)
}

// Combine merges two equally shaped operands element-wise. Addition and
// multiplication layers fold their inputs pairwise through one Combine
// strategy.
type Combine interface {
	Add(a, b *tensor.Dense) (*tensor.Dense, error)
	Multiply(a, b *tensor.Dense) (*tensor.Dense, error)
}

// ClassificationLoss is cross-entropy against one-hot targets, consumed by
// the classification output layer. Y is the softmax output.
type ClassificationLoss interface {
	ForwardLoss(y, t *tensor.Dense) (float32, error)
	BackwardLoss(y, t *tensor.Dense) (*tensor.Dense, error)
}

// RegressionLoss is half mean squared error, consumed by the regression
// output layer.
type RegressionLoss interface {
	ForwardLoss(y, t *tensor.Dense) (float32, error)
	BackwardLoss(y, t *tensor.Dense) (*tensor.Dense, error)
}

// Gate block order inside LSTM weight matrices: block g spans rows
// [g*H, (g+1)*H).
const (
	GateInput = iota
	GateForget
	GateCell
	GateOutput
	NumGates
)
