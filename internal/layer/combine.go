package layer

import (
	"fmt"

	"github.com/plexus-ml/plexus/internal/device"
	"github.com/plexus-ml/plexus/internal/strategy"
	"github.com/plexus-ml/plexus/internal/strategy/accel"
	"github.com/plexus-ml/plexus/internal/strategy/host"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// Addition sums equally shaped inputs element-wise.
type Addition struct {
	base
	numInputs int
	exec      strategy.Combine
}

func NewAddition(name string, numInputs int) *Addition {
	return &Addition{base: newBase(name), numInputs: numInputs, exec: host.Combine{}}
}

func (*Addition) DefaultName() string    { return "addition" }
func (l *Addition) InputNames() []string { return synthNames("in", l.numInputs) }
func (l *Addition) NumInputs() int       { return l.numInputs }

func (l *Addition) IsValidInputSize(inputs []tensor.Shape) bool {
	return sameSizes(inputs, l.numInputs)
}

func (l *Addition) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if !l.IsValidInputSize(inputs) {
		return invalid(1)
	}
	return []tensor.Shape{inputs[0].Clone()}
}

func (l *Addition) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	zs, _, err := l.Forward(xs)
	return zs, err
}

func (l *Addition) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	z := xs[0]
	for _, x := range xs[1:] {
		var err error
		if z, err = l.exec.Add(z, x); err != nil {
			return nil, nil, err
		}
	}
	return []*tensor.Dense{z}, nil, nil
}

// Backward replicates the output gradient to every input.
func (l *Addition) Backward(xs, _, dzs []*tensor.Dense, _ Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	dxs := make([]*tensor.Dense, len(xs))
	for i := range dxs {
		dxs[i] = dzs[0].Clone()
	}
	return dxs, nil, nil
}

func (l *Addition) SetupForHostTraining()                     { l.exec = host.Combine{} }
func (l *Addition) SetupForHostPrediction()                   { l.exec = host.Combine{} }
func (l *Addition) SetupForAccelTraining(ctx *device.Context) { l.exec = accel.NewCombine(ctx) }
func (l *Addition) SetupForAccelPrediction(ctx *device.Context) {
	l.exec = accel.NewCombine(ctx)
}

// Multiplication multiplies equally shaped inputs element-wise.
type Multiplication struct {
	base
	numInputs int
	exec      strategy.Combine
}

func NewMultiplication(name string, numInputs int) *Multiplication {
	return &Multiplication{base: newBase(name), numInputs: numInputs, exec: host.Combine{}}
}

func (*Multiplication) DefaultName() string    { return "multiplication" }
func (l *Multiplication) InputNames() []string { return synthNames("in", l.numInputs) }
func (l *Multiplication) NumInputs() int       { return l.numInputs }

func (l *Multiplication) IsValidInputSize(inputs []tensor.Shape) bool {
	return sameSizes(inputs, l.numInputs)
}

func (l *Multiplication) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	if !l.IsValidInputSize(inputs) {
		return invalid(1)
	}
	return []tensor.Shape{inputs[0].Clone()}
}

func (l *Multiplication) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	zs, _, err := l.Forward(xs)
	return zs, err
}

func (l *Multiplication) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	z := xs[0]
	for _, x := range xs[1:] {
		var err error
		if z, err = l.exec.Multiply(z, x); err != nil {
			return nil, nil, err
		}
	}
	return []*tensor.Dense{z}, nil, nil
}

// Backward: the gradient into input i is dZ times the product of every other
// input.
func (l *Multiplication) Backward(xs, _, dzs []*tensor.Dense, _ Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	dxs := make([]*tensor.Dense, len(xs))
	for i := range xs {
		dx := dzs[0]
		for j, x := range xs {
			if j == i {
				continue
			}
			var err error
			if dx, err = l.exec.Multiply(dx, x); err != nil {
				return nil, nil, err
			}
		}
		if dx == dzs[0] {
			dx = dx.Clone()
		}
		dxs[i] = dx
	}
	return dxs, nil, nil
}

func (l *Multiplication) SetupForHostTraining()   { l.exec = host.Combine{} }
func (l *Multiplication) SetupForHostPrediction() { l.exec = host.Combine{} }
func (l *Multiplication) SetupForAccelTraining(ctx *device.Context) {
	l.exec = accel.NewCombine(ctx)
}
func (l *Multiplication) SetupForAccelPrediction(ctx *device.Context) {
	l.exec = accel.NewCombine(ctx)
}

func sameSizes(inputs []tensor.Shape, want int) bool {
	if len(inputs) != want || want < 2 {
		return false
	}
	if !allValid(inputs) {
		return false
	}
	for _, s := range inputs[1:] {
		if !s.Equal(inputs[0]) {
			return false
		}
	}
	return true
}

// Concatenation joins inputs along one axis of the per-observation size.
// Size vectors of different ranks are right-padded with singleton dimensions
// before comparison; every non-concatenated axis must agree. Backward splits
// the gradient by each input's recorded extent along the axis.
type Concatenation struct {
	base
	numInputs int
	axis      int // 0-based into the per-observation size
}

func NewConcatenation(name string, numInputs, axis int) *Concatenation {
	return &Concatenation{base: newBase(name), numInputs: numInputs, axis: axis}
}

func (*Concatenation) DefaultName() string    { return "concat" }
func (l *Concatenation) InputNames() []string { return synthNames("in", l.numInputs) }
func (l *Concatenation) NumInputs() int       { return l.numInputs }
func (l *Concatenation) Axis() int            { return l.axis }

func (l *Concatenation) paddedInputs(inputs []tensor.Shape) ([]tensor.Shape, bool) {
	if len(inputs) != l.numInputs || l.numInputs < 2 || !allValid(inputs) {
		return nil, false
	}
	rank := l.axis + 1
	for _, s := range inputs {
		if len(s) > rank {
			rank = len(s)
		}
	}
	padded := make([]tensor.Shape, len(inputs))
	for i, s := range inputs {
		padded[i] = s.PadTrailing(rank)
	}
	for _, s := range padded[1:] {
		for d := 0; d < rank; d++ {
			if d != l.axis && s[d] != padded[0][d] {
				return nil, false
			}
		}
	}
	return padded, true
}

func (l *Concatenation) IsValidInputSize(inputs []tensor.Shape) bool {
	_, ok := l.paddedInputs(inputs)
	return ok
}

func (l *Concatenation) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	padded, ok := l.paddedInputs(inputs)
	if !ok {
		return invalid(1)
	}
	out := padded[0].Clone()
	for _, s := range padded[1:] {
		out[l.axis] += s[l.axis]
	}
	return []tensor.Shape{out}
}

func (l *Concatenation) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	zs, _, err := l.Forward(xs)
	return zs, err
}

// Forward concatenates along the runtime tensor axis (per-observation axis
// plus the leading batch dimension) and records each input's extent for the
// backward split.
func (l *Concatenation) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	axis := l.axis + 1
	z, extents, err := concatAlong(axis, xs)
	if err != nil {
		return nil, nil, err
	}
	return []*tensor.Dense{z}, extents, nil
}

func (l *Concatenation) Backward(_, _, dzs []*tensor.Dense, mem Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	extents := mem.([]int)
	dxs, err := splitAlong(l.axis+1, extents, dzs[0])
	if err != nil {
		return nil, nil, err
	}
	return dxs, nil, nil
}

// concatAlong joins tensors along axis, returning per-input extents.
func concatAlong(axis int, xs []*tensor.Dense) (*tensor.Dense, []int, error) {
	rank := axis + 1
	for _, x := range xs {
		if len(x.Shape()) > rank {
			rank = len(x.Shape())
		}
	}

	shapes := make([]tensor.Shape, len(xs))
	extents := make([]int, len(xs))
	total := 0
	for i, x := range xs {
		shapes[i] = x.Shape().PadTrailing(rank)
		for d := 0; d < rank; d++ {
			if d != axis && shapes[i][d] != shapes[0][d] {
				return nil, nil, fmt.Errorf("concat: input %d size %v does not match %v off axis %d",
					i+1, x.Shape(), xs[0].Shape(), axis)
			}
		}
		extents[i] = shapes[i][axis]
		total += extents[i]
	}

	outShape := shapes[0].Clone()
	outShape[axis] = total
	out := tensor.Zeros(outShape)

	// outer spans the dims before axis, inner the dims after.
	outer, inner := 1, 1
	for d := 0; d < axis; d++ {
		outer *= outShape[d]
	}
	for d := axis + 1; d < rank; d++ {
		inner *= outShape[d]
	}

	od := out.Float32s()
	offset := 0
	for i, x := range xs {
		xd := x.Float32s()
		ext := extents[i]
		for o := 0; o < outer; o++ {
			src := o * ext * inner
			dst := (o*total + offset) * inner
			copy(od[dst:dst+ext*inner], xd[src:src+ext*inner])
		}
		offset += ext
	}
	return out, extents, nil
}

// splitAlong is the inverse of concatAlong for the gradient.
func splitAlong(axis int, extents []int, dz *tensor.Dense) ([]*tensor.Dense, error) {
	s := dz.Shape()
	if axis >= len(s) {
		return nil, fmt.Errorf("concat: gradient rank %d has no axis %d", len(s), axis)
	}
	total := 0
	for _, e := range extents {
		total += e
	}
	if s[axis] != total {
		return nil, fmt.Errorf("concat: gradient extent %d does not match recorded extents summing to %d", s[axis], total)
	}

	outer, inner := 1, 1
	for d := 0; d < axis; d++ {
		outer *= s[d]
	}
	for d := axis + 1; d < len(s); d++ {
		inner *= s[d]
	}

	dd := dz.Float32s()
	dxs := make([]*tensor.Dense, len(extents))
	offset := 0
	for i, ext := range extents {
		shape := s.Clone()
		shape[axis] = ext
		dx := tensor.Zeros(shape)
		xd := dx.Float32s()
		for o := 0; o < outer; o++ {
			src := (o*total + offset) * inner
			dst := o * ext * inner
			copy(xd[dst:dst+ext*inner], dd[src:src+ext*inner])
		}
		offset += ext
		dxs[i] = dx
	}
	return dxs, nil
}
