package layer

import (
	"math/rand"

	"github.com/plexus-ml/plexus/internal/strategy"
	"github.com/plexus-ml/plexus/internal/strategy/host"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// Dropout zeroes a random subset of activations while training and rescales
// the survivors; prediction is the identity.
type Dropout struct {
	base
	rate float64
	rng  *rand.Rand

	exec strategy.Dropout
}

func NewDropout(name string, rate float64) *Dropout {
	return &Dropout{
		base: newBase(name),
		rate: rate,
		rng:  rand.New(rand.NewSource(rand.Int63())),
		exec: host.Dropout{},
	}
}

func (*Dropout) DefaultName() string { return "dropout" }
func (l *Dropout) Rate() float64     { return l.rate }

// Seed fixes the mask stream, for reproducible runs.
func (l *Dropout) Seed(seed int64) { l.rng = rand.New(rand.NewSource(seed)) }

func (l *Dropout) IsValidInputSize(inputs []tensor.Shape) bool {
	return len(inputs) == 1 && inputs[0].IsValid()
}

func (l *Dropout) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if !l.IsValidInputSize(inputs) {
		return invalid(1)
	}
	return []tensor.Shape{inputs[0].Clone()}
}

func (l *Dropout) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	return xs, nil
}

func (l *Dropout) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	z, mask, err := l.exec.Forward(xs[0], l.rate, l.rng)
	if err != nil {
		return nil, nil, err
	}
	return []*tensor.Dense{z}, mask, nil
}

func (l *Dropout) Backward(_, _, dzs []*tensor.Dense, mem Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	dx, err := l.exec.Backward(mem.(*tensor.Dense), dzs[0])
	if err != nil {
		return nil, nil, err
	}
	return []*tensor.Dense{dx}, nil, nil
}

func (l *Dropout) SetupForHostTraining()   { l.exec = host.Dropout{} }
func (l *Dropout) SetupForHostPrediction() { l.exec = host.Dropout{} }
