package layer

import (
	"github.com/plexus-ml/plexus/internal/device"
	"github.com/plexus-ml/plexus/internal/strategy"
	"github.com/plexus-ml/plexus/internal/strategy/host"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// Softmax normalizes activations to a probability distribution along the
// class axis. Classification output layers require one as their sole
// immediate predecessor.
type Softmax struct {
	base
	exec strategy.Softmax
}

func NewSoftmax(name string) *Softmax {
	return &Softmax{base: newBase(name), exec: host.Softmax{}}
}

func (*Softmax) DefaultName() string { return "softmax" }
func (*Softmax) softmaxLayer()       {}

func (l *Softmax) IsValidInputSize(inputs []tensor.Shape) bool {
	return len(inputs) == 1 && inputs[0].IsValid()
}

func (l *Softmax) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if !l.IsValidInputSize(inputs) {
		return invalid(1)
	}
	return []tensor.Shape{inputs[0].Clone()}
}

func (l *Softmax) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	z, err := l.exec.Forward(xs[0])
	if err != nil {
		return nil, err
	}
	return []*tensor.Dense{z}, nil
}

func (l *Softmax) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	zs, err := l.Predict(xs)
	return zs, nil, err
}

func (l *Softmax) Backward(_, zs, dzs []*tensor.Dense, _ Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	dx, err := l.exec.Backward(zs[0], dzs[0])
	if err != nil {
		return nil, nil, err
	}
	return []*tensor.Dense{dx}, nil, nil
}

func (l *Softmax) SetupForHostTraining()                   { l.exec = host.Softmax{} }
func (l *Softmax) SetupForHostPrediction()                 { l.exec = host.Softmax{} }
func (l *Softmax) SetupForAccelTraining(*device.Context)   { l.exec = host.Softmax{} }
func (l *Softmax) SetupForAccelPrediction(*device.Context) { l.exec = host.Softmax{} }
