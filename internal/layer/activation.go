package layer

import (
	"github.com/plexus-ml/plexus/internal/device"
	"github.com/plexus-ml/plexus/internal/strategy"
	"github.com/plexus-ml/plexus/internal/strategy/accel"
	"github.com/plexus-ml/plexus/internal/strategy/host"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// activation is the shared shape/flow logic of the element-wise
// nonlinearity layers. Backward keeps both the input and the output around
// since different functions differentiate from different sides.
type activation struct {
	base
	exec strategy.Activation
}

func (l *activation) IsValidInputSize(inputs []tensor.Shape) bool {
	return len(inputs) == 1 && inputs[0].IsValid()
}

func (l *activation) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if !l.IsValidInputSize(inputs) {
		return invalid(1)
	}
	return []tensor.Shape{inputs[0].Clone()}
}

func (l *activation) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	z, err := l.exec.Forward(xs[0])
	if err != nil {
		return nil, err
	}
	return []*tensor.Dense{z}, nil
}

func (l *activation) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	zs, err := l.Predict(xs)
	return zs, nil, err
}

func (l *activation) Backward(xs, zs, dzs []*tensor.Dense, _ Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	dx, err := l.exec.Backward(xs[0], zs[0], dzs[0])
	if err != nil {
		return nil, nil, err
	}
	return []*tensor.Dense{dx}, nil, nil
}

// ReLU clamps negative activations to zero.
type ReLU struct{ activation }

func NewReLU(name string) *ReLU {
	return &ReLU{activation{base: newBase(name), exec: host.ReLU{}}}
}

func (*ReLU) DefaultName() string { return "relu" }

func (l *ReLU) SetupForHostTraining()   { l.exec = host.ReLU{} }
func (l *ReLU) SetupForHostPrediction() { l.exec = host.ReLU{} }
func (l *ReLU) SetupForAccelTraining(ctx *device.Context) {
	l.exec = accel.NewReLU(ctx)
}
func (l *ReLU) SetupForAccelPrediction(ctx *device.Context) {
	l.exec = accel.NewReLU(ctx)
}

// LeakyReLU scales negative activations instead of clamping them.
type LeakyReLU struct {
	activation
	scale float32
}

func NewLeakyReLU(name string, scale float32) *LeakyReLU {
	return &LeakyReLU{activation{base: newBase(name), exec: host.LeakyReLU{Scale: scale}}, scale}
}

func (*LeakyReLU) DefaultName() string { return "leakyrelu" }
func (l *LeakyReLU) Scale() float32    { return l.scale }

func (l *LeakyReLU) SetupForHostTraining()   { l.exec = host.LeakyReLU{Scale: l.scale} }
func (l *LeakyReLU) SetupForHostPrediction() { l.exec = host.LeakyReLU{Scale: l.scale} }

// ClippedReLU clamps activations to [0, ceiling].
type ClippedReLU struct {
	activation
	ceiling float32
}

func NewClippedReLU(name string, ceiling float32) *ClippedReLU {
	return &ClippedReLU{activation{base: newBase(name), exec: host.ClippedReLU{Ceiling: ceiling}}, ceiling}
}

func (*ClippedReLU) DefaultName() string { return "clippedrelu" }
func (l *ClippedReLU) Ceiling() float32  { return l.ceiling }

func (l *ClippedReLU) SetupForHostTraining()   { l.exec = host.ClippedReLU{Ceiling: l.ceiling} }
func (l *ClippedReLU) SetupForHostPrediction() { l.exec = host.ClippedReLU{Ceiling: l.ceiling} }

// ELU is the exponential linear unit.
type ELU struct {
	activation
	alpha float32
}

func NewELU(name string, alpha float32) *ELU {
	return &ELU{activation{base: newBase(name), exec: host.ELU{Alpha: alpha}}, alpha}
}

func (*ELU) DefaultName() string { return "elu" }
func (l *ELU) Alpha() float32    { return l.alpha }

func (l *ELU) SetupForHostTraining()   { l.exec = host.ELU{Alpha: l.alpha} }
func (l *ELU) SetupForHostPrediction() { l.exec = host.ELU{Alpha: l.alpha} }

// Tanh is the hyperbolic tangent.
type Tanh struct{ activation }

func NewTanh(name string) *Tanh {
	return &Tanh{activation{base: newBase(name), exec: host.Tanh{}}}
}

func (*Tanh) DefaultName() string { return "tanh" }

func (l *Tanh) SetupForHostTraining()   { l.exec = host.Tanh{} }
func (l *Tanh) SetupForHostPrediction() { l.exec = host.Tanh{} }

// Sigmoid is the logistic function.
type Sigmoid struct{ activation }

func NewSigmoid(name string) *Sigmoid {
	return &Sigmoid{activation{base: newBase(name), exec: host.Sigmoid{}}}
}

func (*Sigmoid) DefaultName() string { return "sigmoid" }

func (l *Sigmoid) SetupForHostTraining()   { l.exec = host.Sigmoid{} }
func (l *Sigmoid) SetupForHostPrediction() { l.exec = host.Sigmoid{} }
