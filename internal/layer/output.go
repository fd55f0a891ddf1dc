package layer

import (
	"fmt"

	"github.com/plexus-ml/plexus/internal/strategy"
	"github.com/plexus-ml/plexus/internal/strategy/host"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// Output layers terminate the graph: they have no output ports and expose
// the loss surface the trainer drives. Their forward pass is the identity so
// the network's final activations reach the loss unchanged.

// Classification scores softmax probabilities against one-hot targets with
// cross-entropy. The class count is late-bound.
type Classification struct {
	base
	numClasses int // 0 until inferred
	exec       strategy.ClassificationLoss
}

func NewClassification(name string, numClasses int) *Classification {
	return &Classification{base: newBase(name), numClasses: numClasses, exec: host.CrossEntropy{}}
}

func (*Classification) DefaultName() string   { return "classoutput" }
func (*Classification) OutputNames() []string { return nil }
func (l *Classification) NumClasses() int     { return l.numClasses }

func (l *Classification) HasSizeDetermined() bool { return l.numClasses > 0 }

func (l *Classification) IsValidInputSize(inputs []tensor.Shape) bool {
	if len(inputs) != 1 || !inputs[0].IsValid() {
		return false
	}
	return l.numClasses == 0 || inputs[0].NumElements() == l.numClasses
}

func (l *Classification) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	return nil
}

func (l *Classification) InferSize(inputs []tensor.Shape) error {
	if l.HasSizeDetermined() {
		return nil
	}
	if len(inputs) != 1 || !inputs[0].IsValid() {
		return fmt.Errorf("layer %q: cannot infer class count from %v", l.name, inputs)
	}
	l.numClasses = inputs[0].NumElements()
	return nil
}

func (l *Classification) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) { return xs, nil }
func (l *Classification) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	return xs, nil, nil
}
func (l *Classification) Backward(_, _, dzs []*tensor.Dense, _ Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	return dzs, nil, nil
}

func (l *Classification) ForwardLoss(y, t *tensor.Dense) (float32, error) {
	return l.exec.ForwardLoss(y, t)
}

func (l *Classification) BackwardLoss(y, t *tensor.Dense) (*tensor.Dense, error) {
	return l.exec.BackwardLoss(y, t)
}

func (l *Classification) SetupForHostTraining()   { l.exec = host.CrossEntropy{} }
func (l *Classification) SetupForHostPrediction() { l.exec = host.CrossEntropy{} }

// Regression scores predictions against targets with half mean squared
// error.
type Regression struct {
	base
	responseSize int
	exec         strategy.RegressionLoss
}

func NewRegression(name string, responseSize int) *Regression {
	return &Regression{base: newBase(name), responseSize: responseSize, exec: host.HalfMSE{}}
}

func (*Regression) DefaultName() string   { return "regressionoutput" }
func (*Regression) OutputNames() []string { return nil }
func (l *Regression) ResponseSize() int   { return l.responseSize }

func (l *Regression) HasSizeDetermined() bool { return l.responseSize > 0 }

func (l *Regression) IsValidInputSize(inputs []tensor.Shape) bool {
	if len(inputs) != 1 || !inputs[0].IsValid() {
		return false
	}
	return l.responseSize == 0 || inputs[0].NumElements() == l.responseSize
}

func (l *Regression) ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape {
	return nil
}

func (l *Regression) InferSize(inputs []tensor.Shape) error {
	if l.HasSizeDetermined() {
		return nil
	}
	if len(inputs) != 1 || !inputs[0].IsValid() {
		return fmt.Errorf("layer %q: cannot infer response size from %v", l.name, inputs)
	}
	l.responseSize = inputs[0].NumElements()
	return nil
}

func (l *Regression) Predict(xs []*tensor.Dense) ([]*tensor.Dense, error) { return xs, nil }
func (l *Regression) Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error) {
	return xs, nil, nil
}
func (l *Regression) Backward(_, _, dzs []*tensor.Dense, _ Memory, _ bool) ([]*tensor.Dense, []*tensor.Dense, error) {
	return dzs, nil, nil
}

func (l *Regression) ForwardLoss(y, t *tensor.Dense) (float32, error) {
	return l.exec.ForwardLoss(y, t)
}

func (l *Regression) BackwardLoss(y, t *tensor.Dense) (*tensor.Dense, error) {
	return l.exec.BackwardLoss(y, t)
}

func (l *Regression) SetupForHostTraining()   { l.exec = host.HalfMSE{} }
func (l *Regression) SetupForHostPrediction() { l.exec = host.HalfMSE{} }
