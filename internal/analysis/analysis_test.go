package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus-ml/plexus/internal/layer"
	"github.com/plexus-ml/plexus/internal/param"
	"github.com/plexus-ml/plexus/internal/tensor"
)

func conns(pairs ...string) []Connection {
	if len(pairs)%2 != 0 {
		panic("conns wants source/destination pairs")
	}
	out := make([]Connection, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, Connection{Source: pairs[i], Destination: pairs[i+1]})
	}
	return out
}

func withID(issues []Issue, id string) []Issue {
	var out []Issue
	for _, issue := range issues {
		if issue.ID == id {
			out = append(out, issue)
		}
	}
	return out
}

func TestCleanClassificationNetwork(t *testing.T) {
	layers := []layer.Layer{
		layer.NewImageInput("in", tensor.Shape{1, 8, 8}),
		layer.NewConvolution2D("conv", 4, [2]int{3, 3}, [2]int{1, 1}, [2]int{0, 0}),
		layer.NewReLU("relu"),
		layer.NewFlatten("flatten"),
		layer.NewFullyConnected("fc", 10),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 10),
	}
	cs := conns(
		"in", "conv",
		"conv", "relu",
		"relu", "flatten",
		"flatten", "fc",
		"fc", "sm",
		"sm", "cls",
	)

	result, m := New().Analyze(layers, cs)
	assert.Empty(t, result.Issues)
	assert.True(t, result.OK())

	// The chain order is the topological order.
	for i := 1; i < len(m.Position); i++ {
		assert.Less(t, m.Position[i-1], m.Position[i])
	}
	// Sizes flowed end to end: the softmax sees the fc output.
	assert.Equal(t, tensor.Shape{10}, m.Layers[5].Outputs[0].Size)
}

func TestMissingInputPortReportedOnce(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewAddition("add", 2),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 4),
	}
	cs := conns(
		"in", "add/in1",
		"add", "sm",
		"sm", "cls",
	)

	result, m := New().Analyze(layers, cs)
	errs := result.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "Connections:MissingInputs", errs[0].ID)
	assert.Equal(t, []int{1}, errs[0].LayerIndices)
	assert.Contains(t, errs[0].Message, "in2")

	// The addition could not be size-checked, but it is not blamed twice:
	// no propagation issue downstream either.
	assert.Empty(t, withID(result.Issues, "Propagation:InvalidInputSize"))
	assert.False(t, m.Layers[1].Inputs[1].Connected)
}

func TestSinglePortMissingInputMessage(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewReLU("a"),
		layer.NewReLU("b"),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 4),
	}
	// b is touched by a connection (its output feeds sm) but nothing feeds it.
	cs := conns(
		"in", "a",
		"b", "sm",
		"sm", "cls",
	)

	result, _ := New().Analyze(layers, cs)
	missing := withID(result.Issues, "Connections:MissingInputs")
	require.Len(t, missing, 1)
	assert.Equal(t, []string{"b"}, missing[0].DisplayNames)
	assert.Equal(t, "layer does not have an input", missing[0].Message)
}

func TestCycleReportedOnceNamingBothLayers(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewReLU("a"),
		layer.NewReLU("b"),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 4),
	}
	cs := conns(
		"in", "a",
		"a", "b",
		"b", "a", // back edge
		"b", "sm",
		"sm", "cls",
	)

	result, _ := New().Analyze(layers, cs)
	cycles := withID(result.Issues, "Connections:ConnectionCycle")
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, cycles[0].DisplayNames)
	assert.Contains(t, cycles[0].Message, "\"b\"")
	assert.Contains(t, cycles[0].Message, "\"a\"")
}

func TestSelfLoop(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewReLU("a"),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 4),
	}
	cs := conns(
		"in", "a",
		"a", "a",
		"a", "sm",
		"sm", "cls",
	)

	result, _ := New().Analyze(layers, cs)
	loops := withID(result.Issues, "Connections:SelfLoop")
	require.Len(t, loops, 1)
	assert.Equal(t, []string{"a"}, loops[0].DisplayNames)
}

func TestMissingInputLayer(t *testing.T) {
	layers := []layer.Layer{
		layer.NewReLU("a"),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 4),
	}
	cs := conns("a", "sm", "sm", "cls")

	result, _ := New().Analyze(layers, cs)
	missing := withID(result.Issues, "Architecture:MissingInputLayer")
	require.Len(t, missing, 1)
	assert.Equal(t, "the network has no input layer", missing[0].Message)
}

func TestMultipleInputLayersNamesBoth(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("left", 4),
		layer.NewFeatureInput("right", 4),
		layer.NewAddition("add", 2),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 4),
	}
	cs := conns(
		"left", "add/in1",
		"right", "add/in2",
		"add", "sm",
		"sm", "cls",
	)

	result, _ := New().Analyze(layers, cs)
	multi := withID(result.Issues, "Architecture:MultipleInputLayers")
	require.Len(t, multi, 1)
	assert.ElementsMatch(t, []string{"left", "right"}, multi[0].DisplayNames)
	assert.Contains(t, multi[0].Message, "\"left\"")
	assert.Contains(t, multi[0].Message, "\"right\"")
}

func TestMissingOutputLayer(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewReLU("a"),
	}
	cs := conns("in", "a")

	result, _ := New().Analyze(layers, cs)
	assert.Len(t, withID(result.Issues, "Architecture:MissingOutputLayer"), 1)
}

func TestClassificationMustFollowSoftmax(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewFullyConnected("fc", 10),
		layer.NewClassification("cls", 10),
	}
	cs := conns("in", "fc", "fc", "cls")

	result, _ := New().Analyze(layers, cs)
	errs := result.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "Architecture:ClassificationMustBePrecededBySoftmax", errs[0].ID)
	assert.Equal(t, []int{2}, errs[0].LayerIndices)
}

func TestRegressionPrecededBySoftmax(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewSoftmax("sm"),
		layer.NewRegression("reg", 4),
	}
	cs := conns("in", "sm", "sm", "reg")

	result, _ := New().Analyze(layers, cs)
	errs := result.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "Architecture:RegressionPrecededBySoftmax", errs[0].ID)
}

func TestDisconnectedLayerReported(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 4),
		layer.NewReLU("stray"),
	}
	cs := conns("in", "sm", "sm", "cls")

	result, _ := New().Analyze(layers, cs)
	disc := withID(result.Issues, "Architecture:DisconnectedLayers")
	require.Len(t, disc, 1)
	assert.Equal(t, []string{"stray"}, disc[0].DisplayNames)

	// The stray layer is skipped by the missing-inputs rule: the component
	// report already covers it.
	assert.Empty(t, withID(result.Issues, "Connections:MissingInputs"))
}

func TestSeparateComponentReported(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 4),
		layer.NewReLU("x"),
		layer.NewReLU("y"),
	}
	cs := conns(
		"in", "sm",
		"sm", "cls",
		"x", "y",
	)

	result, _ := New().Analyze(layers, cs)
	comps := withID(result.Issues, "Architecture:MultipleComponents")
	require.Len(t, comps, 1)
	assert.ElementsMatch(t, []string{"x", "y"}, comps[0].DisplayNames)
}

func TestRecurrentAndImageLayersCannotCoexist(t *testing.T) {
	layers := []layer.Layer{
		layer.NewSequenceInput("in", 4),
		layer.NewLSTM("lstm", 8, layer.OutputLast),
		layer.NewConvolution2D("conv", 2, [2]int{3, 3}, [2]int{1, 1}, [2]int{0, 0}),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 2),
	}
	cs := conns(
		"in", "lstm",
		"lstm", "conv",
		"conv", "sm",
		"sm", "cls",
	)

	result, _ := New().Analyze(layers, cs)
	coexist := withID(result.Issues, "LSTM:RecurrentAndImageLayers")
	require.Len(t, coexist, 1)
	assert.Contains(t, coexist[0].DisplayNames, "lstm")
	assert.Contains(t, coexist[0].DisplayNames, "conv")
	// The generic sequence variant stays quiet when the recurrent one fired.
	assert.Empty(t, withID(result.Issues, "LSTM:SequenceAndImageLayers"))
}

func TestSequenceInputAndImageLayersCannotCoexist(t *testing.T) {
	layers := []layer.Layer{
		layer.NewSequenceInput("in", 4),
		layer.NewConvolution2D("conv", 2, [2]int{3, 3}, [2]int{1, 1}, [2]int{0, 0}),
	}
	cs := conns("in", "conv")

	result, _ := New().Analyze(layers, cs)
	assert.Len(t, withID(result.Issues, "LSTM:SequenceAndImageLayers"), 1)
	assert.Empty(t, withID(result.Issues, "LSTM:RecurrentAndImageLayers"))
}

func TestBadSizeBlamesOriginatingLayerOnly(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		// A convolution cannot consume a flat feature vector.
		layer.NewConvolution2D("conv", 2, [2]int{3, 3}, [2]int{1, 1}, [2]int{0, 0}),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 2),
	}
	cs := conns(
		"in", "conv",
		"conv", "sm",
		"sm", "cls",
	)

	result, m := New().Analyze(layers, cs)
	prop := withID(result.Issues, "Propagation:InvalidInputSize")
	require.Len(t, prop, 1)
	assert.Equal(t, []int{1}, prop[0].LayerIndices)

	// Downstream layers are suppressed, not re-reported.
	assert.Equal(t, sizeBad, m.Layers[1].state)
	assert.Equal(t, sizeSuppressed, m.Layers[2].state)
	assert.Equal(t, sizeSuppressed, m.Layers[3].state)
}

func TestUnknownEndpointsReported(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewReLU("a"),
	}
	cs := conns(
		"in", "a",
		"ghost", "a",
		"a", "phantom",
		"in/bogus", "a",
		"in", "a/side",
	)

	result, _ := New().Analyze(layers, cs)
	assert.Len(t, withID(result.Issues, "Connections:UnknownSourceLayer"), 1)
	assert.Len(t, withID(result.Issues, "Connections:UnknownDestinationLayer"), 1)
	assert.Len(t, withID(result.Issues, "Connections:UnknownSourcePort"), 1)
	assert.Len(t, withID(result.Issues, "Connections:UnknownDestinationPort"), 1)
}

func TestPoolingSidePortsAreOptional(t *testing.T) {
	layers := []layer.Layer{
		layer.NewImageInput("in", tensor.Shape{1, 4, 4}),
		layer.NewMaxPooling2D("mp", [2]int{2, 2}, [2]int{2, 2}, [2]int{0, 0}),
		layer.NewFlatten("flatten"),
		layer.NewFullyConnected("fc", 4),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 4),
	}
	cs := conns(
		"in", "mp",
		"mp/out", "flatten",
		"flatten", "fc",
		"fc", "sm",
		"sm", "cls",
	)

	result, _ := New().Analyze(layers, cs)
	// Leaving mp/indices and mp/size dangling does not warn.
	assert.Empty(t, withID(result.Issues, "Connections:UnusedOutputs"))
	assert.True(t, result.OK())
}

func TestUnusedOutputWarns(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewReLU("a"),
		layer.NewReLU("b"),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 4),
	}
	// b consumes a's output but feeds nothing.
	cs := conns(
		"in", "a",
		"a", "b",
		"a", "sm",
		"sm", "cls",
	)

	result, _ := New().Analyze(layers, cs)
	unused := withID(result.Issues, "Connections:UnusedOutputs")
	require.Len(t, unused, 1)
	assert.Equal(t, Warning, unused[0].Severity)
	assert.Equal(t, []string{"b"}, unused[0].DisplayNames)
	assert.True(t, result.OK())
}

func TestDuplicateNamesRenamedWithWarning(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewReLU("act"),
		layer.NewReLU("act"),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 4),
	}
	cs := conns(
		"in", "act",
		"act", "act_1",
		"act_1", "sm",
		"sm", "cls",
	)

	result, m := New().Analyze(layers, cs)
	renamed := withID(result.Issues, "Names:DuplicateNameRenamed")
	require.Len(t, renamed, 1)
	assert.Equal(t, []string{"act_1"}, renamed[0].DisplayNames)
	assert.Equal(t, "act", m.Layers[2].OriginalName)
	assert.True(t, result.OK())
}

func TestDefaultNamesSynthesizedWithoutWarning(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("", 4),
		layer.NewReLU(""),
		layer.NewReLU(""),
		layer.NewSoftmax(""),
		layer.NewClassification("", 4),
	}
	cs := conns(
		"featureinput", "relu",
		"relu", "relu_1",
		"relu_1", "softmax",
		"softmax", "classoutput",
	)

	result, m := New().Analyze(layers, cs)
	assert.Empty(t, withID(result.Issues, "Names:DuplicateNameRenamed"))
	assert.Equal(t, "relu_1", m.Layers[2].DisplayName)
	assert.Empty(t, result.Issues)
}

// scaleByWeight is a well-formed custom layer with one declared parameter.
type scaleByWeight struct {
	w *param.Learnable
}

func (s *scaleByWeight) DeclareParameters(reg *layer.ParameterRegistry) {
	w, err := tensor.FromSlice([]float32{2}, tensor.Shape{1})
	if err != nil {
		panic(err)
	}
	s.w = reg.Declare("w", w)
}

func (s *scaleByWeight) Predict(x *tensor.Dense) (*tensor.Dense, error) {
	z, _, err := s.Forward(x)
	return z, err
}

func (s *scaleByWeight) Forward(x *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	w := s.w.Value().Float32s()[0]
	z := x.Clone()
	data := z.Float32s()
	for i := range data {
		data[i] *= w
	}
	return z, nil, nil
}

func (s *scaleByWeight) Backward(x, z, dz, memory *tensor.Dense) (*tensor.Dense, []*tensor.Dense, error) {
	w := s.w.Value().Float32s()[0]
	dx := dz.Clone()
	for i, v := range dx.Float32s() {
		dx.Float32s()[i] = v * w
	}
	var dwSum float32
	for i, g := range dz.Float32s() {
		dwSum += g * x.Float32s()[i]
	}
	dw, err := tensor.FromSlice([]float32{dwSum}, tensor.Shape{1})
	if err != nil {
		return nil, nil, err
	}
	return dx, []*tensor.Dense{dw}, nil
}

// forgetfulBackward declares a parameter but never returns its gradient.
type forgetfulBackward struct {
	scaleByWeight
}

func (f *forgetfulBackward) Backward(x, z, dz, memory *tensor.Dense) (*tensor.Dense, []*tensor.Dense, error) {
	return dz.Clone(), nil, nil
}

func TestCustomLayerContractHolds(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewCustomLayer("scale", &scaleByWeight{}),
		layer.NewRegression("reg", 4),
	}
	cs := conns("in", "scale", "scale", "reg")

	result, _ := New().Analyze(layers, cs)
	assert.Empty(t, result.Issues)
}

func TestCustomLayerWrongGradientCount(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewCustomLayer("scale", &forgetfulBackward{}),
		layer.NewRegression("reg", 4),
	}
	cs := conns("in", "scale", "scale", "reg")

	result, _ := New().Analyze(layers, cs)
	bad := withID(result.Issues, "CustomLayers:WrongBackwardGradientCount")
	require.Len(t, bad, 1)
	assert.Equal(t, []int{1}, bad[0].LayerIndices)
}

func TestCustomLayerPanicBecomesIssue(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewCustomLayer("frail", &batchOneOnly{}),
		layer.NewRegression("reg", 4),
	}
	cs := conns("in", "frail", "frail", "reg")

	result, _ := New().Analyze(layers, cs)
	bad := withID(result.Issues, "CustomLayers:BehavioralVerification")
	require.Len(t, bad, 1)
	assert.Contains(t, bad[0].Message, "batch of 5")
}

// batchOneOnly panics on any batch larger than one: the batch-5 probe must
// catch it before training would.
type batchOneOnly struct{}

func (*batchOneOnly) Predict(x *tensor.Dense) (*tensor.Dense, error) {
	if x.Shape()[0] != 1 {
		panic("batch must be 1")
	}
	return x.Clone(), nil
}

func (b *batchOneOnly) Forward(x *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	z, err := b.Predict(x)
	return z, nil, err
}

func (*batchOneOnly) Backward(x, z, dz, memory *tensor.Dense) (*tensor.Dense, []*tensor.Dense, error) {
	return dz.Clone(), nil, nil
}

// A custom layer whose Forward returns a nil tensor with a nil error must
// surface as an Issue, not crash the analysis run.
func TestCustomLayerReturningNoOutputReported(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 3),
		layer.NewCustomLayer("mute", &noOutput{}),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 3),
	}
	cs := conns("in", "mute", "mute", "sm", "sm", "cls")

	result, m := New().Analyze(layers, cs)
	assert.False(t, result.OK())
	assert.Equal(t, sizeBad, m.Layers[1].state)

	bad := withID(result.Issues, "CustomLayers:BehavioralVerification")
	require.Len(t, bad, 1)
	assert.Contains(t, bad[0].Message, "no output")
	require.Len(t, withID(result.Issues, "Propagation:InvalidInputSize"), 1)
}

// noOutput answers every call with nil tensors and a nil error.
type noOutput struct{}

func (*noOutput) Predict(x *tensor.Dense) (*tensor.Dense, error) { return nil, nil }

func (*noOutput) Forward(x *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	return nil, nil, nil
}

func (*noOutput) Backward(x, z, dz, memory *tensor.Dense) (*tensor.Dense, []*tensor.Dense, error) {
	return nil, nil, nil
}

func TestDuplicateInputConnectionReported(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewFullyConnected("fc1", 3),
		layer.NewFullyConnected("fc2", 3),
		layer.NewSoftmax("sm"),
		layer.NewClassification("cls", 3),
	}
	cs := conns(
		"in", "fc1",
		"in", "fc2",
		"fc1", "sm",
		"fc2", "sm",
		"sm", "cls",
	)

	result, m := New().Analyze(layers, cs)
	assert.False(t, result.OK())

	dup := withID(result.Issues, "Connections:MultipleSourcesForInput")
	require.Len(t, dup, 1)
	assert.Equal(t, []int{3}, dup[0].LayerIndices)
	assert.Contains(t, dup[0].Message, "more than one incoming connection")

	// Propagation reads the first edge in sorted order, deterministically.
	src, _, ok := m.connectionInto(3, 1)
	require.True(t, ok)
	assert.Equal(t, 1, src)
}

func TestDuplicateInputConnectionNamesThePort(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewFullyConnected("fc", 4),
		layer.NewAddition("add", 2),
		layer.NewRegression("reg", 4),
	}
	cs := conns(
		"in", "fc",
		"in", "add/in1",
		"fc", "add/in1",
		"fc", "add/in2",
		"add", "reg",
	)

	result, _ := New().Analyze(layers, cs)
	dup := withID(result.Issues, "Connections:MultipleSourcesForInput")
	require.Len(t, dup, 1)
	assert.Contains(t, dup[0].Message, "\"in1\"")
}

func TestConnectionIntoInputLayerReported(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 4),
		layer.NewFullyConnected("fc", 4),
		layer.NewRegression("reg", 4),
	}
	cs := conns("in", "fc", "fc", "reg", "fc", "in")

	result, _ := New().Analyze(layers, cs)
	bad := withID(result.Issues, "Connections:InputLayerDestination")
	require.Len(t, bad, 1)
	assert.Equal(t, []int{0}, bad[0].LayerIndices)
	assert.Contains(t, bad[0].Message, "cannot receive connections")
	assert.Empty(t, withID(result.Issues, "Connections:UnknownDestinationPort"))
}
