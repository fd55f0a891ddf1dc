// Package network compiles an external graph.Spec into an executable
// Network: layers in pseudo-topological order plus the resolved internal
// connections. A Network walks the DAG per mini-batch for prediction,
// training forward passes, and backpropagation; the trainer drives it
// through DataSource batches and reports analyzer findings to an IssueSink.
package network

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/plexus-ml/plexus/graph"
	"github.com/plexus-ml/plexus/internal/analysis"
	"github.com/plexus-ml/plexus/internal/device"
	"github.com/plexus-ml/plexus/internal/layer"
	"github.com/plexus-ml/plexus/internal/optim"
	"github.com/plexus-ml/plexus/internal/param"
	"github.com/plexus-ml/plexus/internal/strategy/host"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// IssueSink receives analyzer findings. The trainer reports warnings through
// it before training starts.
type IssueSink interface {
	Report(issue analysis.Issue)
}

// IssueSinkFunc adapts a function to the IssueSink interface.
type IssueSinkFunc func(issue analysis.Issue)

func (f IssueSinkFunc) Report(issue analysis.Issue) { f(issue) }

// Network is a compiled, validated layer graph. Layers keep their original
// indices; order holds the pseudo-topological visiting sequence.
type Network struct {
	layers   []layer.Layer
	order    []int
	internal [][4]int

	inputIdx  int
	outputIdx int
	output    layer.Output

	spec *graph.Spec // source spec, nil when assembled from layers directly
}

// Compile builds the internal layers from the spec, validates the graph,
// and initializes the learnable parameters. On validation errors the
// returned Result carries the issues and the network is nil.
func Compile(s *graph.Spec) (*Network, *analysis.Result, error) {
	layers := make([]layer.Layer, len(s.Layers))
	for i, ls := range s.Layers {
		l, err := buildLayer(ls)
		if err != nil {
			return nil, nil, err
		}
		layers[i] = l
	}

	conns := make([]graph.Connection, len(s.Connections))
	copy(conns, s.Connections)

	net, result, err := Assemble(layers, conns)
	if err != nil {
		return nil, result, err
	}

	resolved := &graph.Spec{
		Layers:      append([]graph.LayerSpec(nil), s.Layers...),
		Connections: conns,
	}
	for i := range resolved.Layers {
		resolved.Layers[i].Name = layers[i].Name()
	}
	net.spec = resolved

	net.Initialize(rand.New(rand.NewSource(rand.Int63())))
	return net, result, nil
}

// Assemble validates pre-built layers (the path for custom layers, which
// have no external spec kind) and returns the executable network. Parameters
// are not initialized; call Initialize before training.
func Assemble(layers []layer.Layer, conns []graph.Connection) (*Network, *analysis.Result, error) {
	aconns := make([]analysis.Connection, len(conns))
	for i, c := range conns {
		aconns[i] = analysis.Connection{Source: c.Source, Destination: c.Destination}
	}

	result, m := analysis.New().Analyze(layers, aconns)
	if !result.OK() {
		return nil, result, errors.New("network graph has errors")
	}

	net := &Network{
		layers:    layers,
		order:     make([]int, len(layers)),
		internal:  m.Internal,
		inputIdx:  -1,
		outputIdx: -1,
	}
	for i, pos := range m.Position {
		net.order[pos] = i
	}
	for i, l := range layers {
		if layer.IsInput(l) {
			net.inputIdx = i
		}
		if o, ok := l.(layer.Output); ok {
			net.outputIdx = i
			net.output = o
		}
	}
	return net, result, nil
}

// Initialize seeds every layer's learnable parameters, in topological order
// so the draw sequence is reproducible for a given rng.
func (n *Network) Initialize(rng *rand.Rand) {
	for _, i := range n.order {
		n.layers[i].InitializeLearnables(rng)
	}
}

// Layers returns the layers in their original spec order.
func (n *Network) Layers() []layer.Layer { return n.layers }

// LayerByName returns the named layer, nil when absent.
func (n *Network) LayerByName(name string) layer.Layer {
	for _, l := range n.layers {
		if l.Name() == name {
			return l
		}
	}
	return nil
}

// InputSize returns the declared per-observation input size.
func (n *Network) InputSize() tensor.Shape {
	return n.layers[n.inputIdx].(layer.Input).Size()
}

// Spec returns the source spec with the resolved layer names, nil for
// networks assembled from layers directly.
func (n *Network) Spec() *graph.Spec { return n.spec }

// Setup fan-outs. A network runs entirely on the host or entirely against
// one accelerator context; mixing is a per-layer concern (layers without a
// device variant keep their host numerics).

func (n *Network) SetupForHostTraining() {
	for _, l := range n.layers {
		l.SetupForHostTraining()
	}
}

func (n *Network) SetupForHostPrediction() {
	for _, l := range n.layers {
		l.SetupForHostPrediction()
	}
}

func (n *Network) SetupForAccelTraining(ctx *device.Context) {
	for _, l := range n.layers {
		l.SetupForAccelTraining(ctx)
	}
}

func (n *Network) SetupForAccelPrediction(ctx *device.Context) {
	for _, l := range n.layers {
		l.SetupForAccelPrediction(ctx)
	}
}

func (n *Network) PrepareForTraining() {
	for _, l := range n.layers {
		l.PrepareForTraining()
	}
}

func (n *Network) PrepareForPrediction() {
	for _, l := range n.layers {
		l.PrepareForPrediction()
	}
}

// Finalize freezes accumulated statistics (batch normalization) for
// prediction.
func (n *Network) Finalize() {
	for _, l := range n.layers {
		if f, ok := l.(layer.Finalizable); ok {
			f.Finalize()
		}
	}
}

// MergeStatistics folds the accumulated statistics of an independently
// trained copy of the same network into this one, layer by layer.
func (n *Network) MergeStatistics(other *Network) error {
	if len(other.layers) != len(n.layers) {
		return fmt.Errorf("cannot merge statistics: %d layers vs %d", len(other.layers), len(n.layers))
	}
	for i, l := range n.layers {
		f, ok := l.(layer.Finalizable)
		if !ok {
			continue
		}
		if err := f.MergeStatistics(other.layers[i]); err != nil {
			return err
		}
	}
	return nil
}

// Predict runs one batch through the network in prediction mode and returns
// the output layer's input, the network prediction.
func (n *Network) Predict(x *tensor.Dense) (*tensor.Dense, error) {
	values := make(map[[2]int]*tensor.Dense)
	var y *tensor.Dense

	for _, i := range n.order {
		l := n.layers[i]
		xs, err := n.gather(values, i, x)
		if err != nil {
			return nil, err
		}
		outs, err := l.Predict(xs)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", l.Name(), err)
		}
		if i == n.outputIdx {
			y = outs[0]
			continue
		}
		for p, z := range outs {
			values[[2]int{i, p + 1}] = z
		}
	}
	return y, nil
}

// Activations carries everything one training forward pass produced that
// the backward pass needs.
type Activations struct {
	xs   [][]*tensor.Dense
	zs   [][]*tensor.Dense
	mems []layer.Memory
	y    *tensor.Dense
}

// Output returns the network prediction of the recorded pass.
func (a *Activations) Output() *tensor.Dense { return a.y }

// Forward runs one batch through the network in training mode, recording
// per-layer activations and backward memory.
func (n *Network) Forward(x *tensor.Dense) (*Activations, error) {
	acts := &Activations{
		xs:   make([][]*tensor.Dense, len(n.layers)),
		zs:   make([][]*tensor.Dense, len(n.layers)),
		mems: make([]layer.Memory, len(n.layers)),
	}
	values := make(map[[2]int]*tensor.Dense)

	for _, i := range n.order {
		l := n.layers[i]
		xs, err := n.gather(values, i, x)
		if err != nil {
			return nil, err
		}
		zs, mem, err := l.Forward(xs)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", l.Name(), err)
		}
		acts.xs[i], acts.zs[i], acts.mems[i] = xs, zs, mem
		if i == n.outputIdx {
			acts.y = zs[0]
			continue
		}
		for p, z := range zs {
			values[[2]int{i, p + 1}] = z
		}
	}
	return acts, nil
}

// Loss evaluates the output layer's loss for a recorded forward pass.
func (n *Network) Loss(acts *Activations, t *tensor.Dense) (float32, error) {
	return n.output.ForwardLoss(acts.y, t)
}

// Gradients holds one weight gradient per learnable parameter, grouped by
// layer in original index order.
type Gradients struct {
	layers  []layer.Layer
	byLayer [][]*tensor.Dense
}

// ForLayer returns the weight gradients of layer i, aligned with its
// Learnables.
func (g *Gradients) ForLayer(i int) []*tensor.Dense { return g.byLayer[i] }

// Pairs flattens the gradients into (parameter, gradient) slices aligned
// for an optimizer step, in layer index order.
func (g *Gradients) Pairs() ([]*param.Learnable, []*tensor.Dense) {
	var params []*param.Learnable
	var grads []*tensor.Dense
	for i, l := range g.layers {
		for j, p := range l.Learnables() {
			params = append(params, p)
			if j < len(g.byLayer[i]) {
				grads = append(grads, g.byLayer[i][j])
			} else {
				grads = append(grads, nil)
			}
		}
	}
	return params, grads
}

// Apply runs one optimizer step over every learnable parameter.
func (g *Gradients) Apply(opt optim.Optimizer) error {
	params, grads := g.Pairs()
	return opt.Step(params, grads)
}

// Backward backpropagates the loss gradient through the recorded pass and
// returns the weight gradients. Gradients fan-in by summation when one
// output feeds several layers.
func (n *Network) Backward(acts *Activations, t *tensor.Dense) (*Gradients, error) {
	dy, err := n.output.BackwardLoss(acts.y, t)
	if err != nil {
		return nil, err
	}

	grads := &Gradients{
		layers:  n.layers,
		byLayer: make([][]*tensor.Dense, len(n.layers)),
	}
	dvalues := make(map[[2]int]*tensor.Dense)
	adder := host.Combine{}

	for k := len(n.order) - 1; k >= 0; k-- {
		i := n.order[k]
		l := n.layers[i]
		if i == n.inputIdx {
			continue
		}

		var dxs []*tensor.Dense
		if i == n.outputIdx {
			dxs = []*tensor.Dense{dy}
		} else {
			dzs := make([]*tensor.Dense, len(acts.zs[i]))
			for p, z := range acts.zs[i] {
				if d, ok := dvalues[[2]int{i, p + 1}]; ok {
					dzs[p] = d
				} else {
					dzs[p] = tensor.Zeros(z.Shape())
				}
			}
			var dws []*tensor.Dense
			dxs, dws, err = l.Backward(acts.xs[i], acts.zs[i], dzs, acts.mems[i], true)
			if err != nil {
				return nil, fmt.Errorf("layer %q: %w", l.Name(), err)
			}
			grads.byLayer[i] = dws
		}

		for p, dx := range dxs {
			src, sp, ok := n.connectionInto(i, p+1)
			if !ok {
				continue
			}
			key := [2]int{src, sp}
			if prev, exists := dvalues[key]; exists {
				sum, err := adder.Add(prev, dx)
				if err != nil {
					return nil, err
				}
				dvalues[key] = sum
			} else {
				dvalues[key] = dx
			}
		}
	}
	return grads, nil
}

// gather assembles the input tensors for one layer. Input layers take the
// batch directly; everyone else reads the values of their connected sources.
func (n *Network) gather(values map[[2]int]*tensor.Dense, i int, x *tensor.Dense) ([]*tensor.Dense, error) {
	l := n.layers[i]
	names := l.InputNames()
	if len(names) == 0 {
		return []*tensor.Dense{x}, nil
	}
	xs := make([]*tensor.Dense, len(names))
	for p := range names {
		src, sp, ok := n.connectionInto(i, p+1)
		if !ok {
			return nil, fmt.Errorf("layer %q: input %q is not connected", l.Name(), names[p])
		}
		v, ok := values[[2]int{src, sp}]
		if !ok {
			return nil, fmt.Errorf("layer %q: input %q has no value", l.Name(), names[p])
		}
		xs[p] = v
	}
	return xs, nil
}

func (n *Network) connectionInto(dst, dstPort int) (src, srcPort int, ok bool) {
	for _, c := range n.internal {
		if c[2] == dst && c[3] == dstPort {
			return c[0], c[1], true
		}
	}
	return 0, 0, false
}
