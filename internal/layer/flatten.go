package layer

import (
	"github.com/plexus-ml/plexus/internal/tensor"
)

// Flatten collapses each observation to a feature vector.
type Flatten struct {
	base
}

func NewFlatten(name string) *Flatten {
	return &Flatten{base: newBase(name)}
}

func (*Flatten) DefaultName() string { return "flatten" }

func (l *Flatten) IsValidInputSize(inputs []tensor.Shape) bool {
	return len(inputs) == 1 && inputs[0].IsValid()
}

func (l *Flatten) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if !l.IsValidInputSize(inputs) {
		return invalid(1)
	}
	return []tensor.Shape{{inputs[0].NumElements()}}
}

func (l *Flatten) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	zs, _, err := l.Forward(xs)
	return zs, err
}

func (l *Flatten) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	s := xs[0].Shape()
	features := 1
	for _, d := range s[1:] {
		features *= d
	}
	z, err := xs[0].Reshape(tensor.Shape{s[0], features})
	if err != nil {
		return nil, nil, err
	}
	return []*tensor.Dense{z}, nil, nil
}

func (l *Flatten) Backward(xs, _, dzs []*tensor.Dense, _ Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	dx, err := dzs[0].Reshape(xs[0].Shape())
	if err != nil {
		return nil, nil, err
	}
	return []*tensor.Dense{dx}, nil, nil
}
