package host

import (
	"fmt"
	"math"

	"github.com/plexus-ml/plexus/internal/tensor"
)

// CrossEntropy is the host strategy for the classification output layer's
// loss. Y is the softmax output, T a one-hot (or probabilistic) target of
// the same shape.
type CrossEntropy struct{}

// ForwardLoss computes -sum(T*log(Y))/N, with Y bounded away from zero so
// log stays finite.
func (CrossEntropy) ForwardLoss(y, t *tensor.Dense) (float32, error) {
	if !y.Shape().Equal(t.Shape()) {
		return 0, fmt.Errorf("crossentropy: prediction shape %v != target shape %v", y.Shape(), t.Shape())
	}
	n := y.Shape()[0]
	yd, td := y.Float32s(), t.Float32s()

	var loss float64
	for i := range yd {
		if td[i] == 0 {
			continue
		}
		v := float64(yd[i])
		if v < float64(zFloor) {
			v = float64(zFloor)
		}
		loss -= float64(td[i]) * math.Log(v)
	}
	return float32(loss / float64(n)), nil
}

// BackwardLoss computes dY = -T/(Y*N).
func (CrossEntropy) BackwardLoss(y, t *tensor.Dense) (*tensor.Dense, error) {
	if !y.Shape().Equal(t.Shape()) {
		return nil, fmt.Errorf("crossentropy: prediction shape %v != target shape %v", y.Shape(), t.Shape())
	}
	n := float32(y.Shape()[0])
	dy := tensor.Zeros(y.Shape())
	yd, td, dyd := y.Float32s(), t.Float32s(), dy.Float32s()
	for i := range yd {
		if td[i] == 0 {
			continue
		}
		v := yd[i]
		if v < zFloor {
			v = zFloor
		}
		dyd[i] = -td[i] / (v * n)
	}
	return dy, nil
}

// HalfMSE is the host strategy for the regression output layer's loss:
// sum((Y-T)^2) / (2N).
type HalfMSE struct{}

func (HalfMSE) ForwardLoss(y, t *tensor.Dense) (float32, error) {
	if !y.Shape().Equal(t.Shape()) {
		return 0, fmt.Errorf("halfmse: prediction shape %v != target shape %v", y.Shape(), t.Shape())
	}
	n := y.Shape()[0]
	yd, td := y.Float32s(), t.Float32s()
	var loss float64
	for i := range yd {
		d := float64(yd[i] - td[i])
		loss += d * d
	}
	return float32(loss / float64(2*n)), nil
}

func (HalfMSE) BackwardLoss(y, t *tensor.Dense) (*tensor.Dense, error) {
	if !y.Shape().Equal(t.Shape()) {
		return nil, fmt.Errorf("halfmse: prediction shape %v != target shape %v", y.Shape(), t.Shape())
	}
	n := float32(y.Shape()[0])
	dy := tensor.Zeros(y.Shape())
	yd, td, dyd := y.Float32s(), t.Float32s(), dy.Float32s()
	for i := range yd {
		dyd[i] = (yd[i] - td[i]) / n
	}
	return dy, nil
}
