// Package layer holds the network layer catalog. Every layer kind implements
// Layer: identity and port topology, static size propagation, the
// predict/forward/backward numeric surface, and the lifecycle hooks the
// analyzer and trainer drive (size inference, parameter initialization,
// execution-strategy selection, training/prediction preparation).
//
// Layers delegate their numerics to one active execution strategy
// (internal/strategy); the setup hooks swap between the host and accelerator
// variants. Capabilities beyond the shared contract (finalizable statistics,
// recurrence, custom wrapping) are separate interfaces queried with type
// assertions.
package layer

import (
	"math/rand"
	"strconv"

	"github.com/plexus-ml/plexus/internal/device"
	"github.com/plexus-ml/plexus/internal/param"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// Memory carries values a layer's forward pass computed that its backward
// pass needs (pooling indices, gate activations, dropout masks). Opaque to
// callers; each layer knows its own memory type.
type Memory any

// Layer is the contract every network layer implements.
//
// ForwardPropagateSize is a pure function of per-observation sizes used for
// static validation: it receives one size per input port (nil marks a
// missing or invalid input) and returns one size per output port, nil for
// every port it cannot determine. InferSize resolves late-bound
// hyperparameters from the same sizes and is idempotent once
// HasSizeDetermined reports true.
//
// Forward returns one tensor per output port plus the backward memory.
// Backward receives the forward inputs, outputs, the gradient per output
// port, and the memory; it returns the gradient per input port and, when
// needWeightGrads is set, one gradient per learnable parameter in
// Learnables() order.
type Layer interface {
	Name() string
	SetName(string)
	OriginalName() string
	DefaultName() string

	InputNames() []string
	OutputNames() []string

	HasSizeDetermined() bool
	ForwardPropagateSize(inputs []tensor.Shape) []tensor.Shape
	InferSize(inputs []tensor.Shape) error
	IsValidInputSize(inputs []tensor.Shape) bool

	Learnables() []*param.Learnable
	InitializeLearnables(rng *rand.Rand)

	Predict(xs []*tensor.Dense) ([]*tensor.Dense, error)
	Forward(xs []*tensor.Dense) ([]*tensor.Dense, Memory, error)
	Backward(xs, zs, dzs []*tensor.Dense, mem Memory, needWeightGrads bool) (dxs, dws []*tensor.Dense, err error)

	SetupForHostTraining()
	SetupForHostPrediction()
	SetupForAccelTraining(ctx *device.Context)
	SetupForAccelPrediction(ctx *device.Context)

	PrepareForTraining()
	PrepareForPrediction()
}

// Input is satisfied by the input layer kinds; Size is the declared
// per-observation size that seeds shape propagation.
type Input interface {
	Layer
	Size() tensor.Shape
}

// Output is satisfied by the loss-bearing output layer kinds. The trainer
// drives the loss surface directly; output layers have no output ports.
type Output interface {
	Layer
	ForwardLoss(y, t *tensor.Dense) (float32, error)
	BackwardLoss(y, t *tensor.Dense) (*tensor.Dense, error)
}

// Finalizable is satisfied by layers that accumulate statistics while
// training (batch normalization). Finalize freezes the accumulated state for
// prediction; MergeStatistics folds in the state of an independently trained
// copy of the same layer.
type Finalizable interface {
	Layer
	Finalize()
	MergeStatistics(other Layer) error
}

// Recurrent is satisfied by the recurrent layer kinds.
type Recurrent interface {
	Layer
	HiddenSize() int
}

// CustomWrapped is satisfied by the adapter around user-authored layers.
type CustomWrapped interface {
	Layer
	Wrapped() Custom
}

// OptionalOutputs is satisfied by layers whose secondary output ports may
// legitimately stay unconnected (pooling indices consumed only by unpooling
// layers).
type OptionalOutputs interface {
	Layer
	OptionalOutputPorts() []string
}

// Classification flags used by the analyzer. Markers rather than flags on
// the layers themselves so a kind opts in by implementing a method.
type (
	imageSpecific    interface{ imageSpecific() }
	sequenceSpecific interface{ sequenceSpecific() }
	softmaxLayer     interface{ softmaxLayer() }
)

func IsInput(l Layer) bool          { _, ok := l.(Input); return ok }
func IsOutput(l Layer) bool         { _, ok := l.(Output); return ok }
func IsRecurrent(l Layer) bool      { _, ok := l.(Recurrent); return ok }
func IsCustom(l Layer) bool         { _, ok := l.(CustomWrapped); return ok }
func IsSoftmax(l Layer) bool        { _, ok := l.(softmaxLayer); return ok }
func IsClassification(l Layer) bool { _, ok := l.(*Classification); return ok }

// IsImageSpecific reports whether the layer only operates on image-shaped
// data (spatial convolution and pooling, image input).
func IsImageSpecific(l Layer) bool { _, ok := l.(imageSpecific); return ok }

// IsSequenceSpecific reports whether the layer only operates on sequence
// data (sequence input, recurrence).
func IsSequenceSpecific(l Layer) bool { _, ok := l.(sequenceSpecific); return ok }

// Updatable reports whether the trainer has parameters to update here.
func Updatable(l Layer) bool { return len(l.Learnables()) > 0 }

// base carries layer identity and the no-op defaults most kinds share.
// Concrete layers shadow what they need.
type base struct {
	name  string
	given string // name supplied at construction, "" when none
}

func newBase(name string) base { return base{name: name, given: name} }

func (b *base) Name() string         { return b.name }
func (b *base) SetName(n string)     { b.name = n }
func (b *base) OriginalName() string { return b.given }

func (*base) InputNames() []string  { return []string{"in"} }
func (*base) OutputNames() []string { return []string{"out"} }

func (*base) HasSizeDetermined() bool                 { return true }
func (*base) InferSize([]tensor.Shape) error          { return nil }
func (*base) Learnables() []*param.Learnable          { return nil }
func (*base) InitializeLearnables(*rand.Rand)         {}
func (*base) PrepareForTraining()                     {}
func (*base) PrepareForPrediction()                   {}
func (*base) SetupForHostTraining()                   {}
func (*base) SetupForHostPrediction()                 {}
func (*base) SetupForAccelTraining(*device.Context)   {}
func (*base) SetupForAccelPrediction(*device.Context) {}

// allValid reports whether every input size is present and valid.
func allValid(inputs []tensor.Shape) bool {
	for _, s := range inputs {
		if !s.IsValid() {
			return false
		}
	}
	return true
}

// invalid returns n undetermined output sizes.
func invalid(n int) []tensor.Shape { return make([]tensor.Shape, n) }

// synthNames produces in1..inN style port names.
func synthNames(prefix string, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = prefix + strconv.Itoa(i+1)
	}
	return names
}
