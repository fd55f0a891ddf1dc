package network

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexus-ml/plexus/graph"
	"github.com/plexus-ml/plexus/internal/layer"
	"github.com/plexus-ml/plexus/internal/optim"
	"github.com/plexus-ml/plexus/internal/tensor"
)

func mlpSpec() *graph.Spec {
	return (&graph.Spec{}).
		Add(
			graph.LayerSpec{Kind: graph.KindFeatureInput, Name: "in", Size: []int{4}},
			graph.LayerSpec{Kind: graph.KindFullyConnected, Name: "fc1", OutputSize: 8},
			graph.LayerSpec{Kind: graph.KindReLU, Name: "relu"},
			graph.LayerSpec{Kind: graph.KindFullyConnected, Name: "fc2", OutputSize: 3},
			graph.LayerSpec{Kind: graph.KindSoftmax, Name: "sm"},
			graph.LayerSpec{Kind: graph.KindClassification, Name: "cls", Classes: 3},
		).
		Chain("in", "fc1", "relu", "fc2", "sm", "cls")
}

func TestCompileAndPredictMLP(t *testing.T) {
	net, result, err := Compile(mlpSpec())
	require.NoError(t, err)
	require.True(t, result.OK())
	net.SetupForHostPrediction()
	net.PrepareForPrediction()

	x, err := tensor.FromSlice([]float32{
		0.1, -0.2, 0.3, 0.4,
		-0.5, 0.6, -0.7, 0.8,
	}, tensor.Shape{2, 4})
	require.NoError(t, err)

	y, err := net.Predict(x)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{2, 3}, y.Shape())

	// Softmax rows sum to one.
	yd := y.Float32s()
	for r := 0; r < 2; r++ {
		var sum float32
		for c := 0; c < 3; c++ {
			sum += yd[r*3+c]
		}
		assert.InDelta(t, 1.0, sum, 1e-5)
	}
}

func TestTrainingStepReducesLoss(t *testing.T) {
	net, _, err := Compile(mlpSpec())
	require.NoError(t, err)
	net.Initialize(rand.New(rand.NewSource(7)))
	net.SetupForHostTraining()
	net.PrepareForTraining()

	x, err := tensor.FromSlice([]float32{
		0.1, -0.2, 0.3, 0.4,
		-0.5, 0.6, -0.7, 0.8,
	}, tensor.Shape{2, 4})
	require.NoError(t, err)
	target, err := tensor.FromSlice([]float32{
		1, 0, 0,
		0, 0, 1,
	}, tensor.Shape{2, 3})
	require.NoError(t, err)

	acts, err := net.Forward(x)
	require.NoError(t, err)
	before, err := net.Loss(acts, target)
	require.NoError(t, err)

	opt := optim.NewSGD(optim.SGDConfig{LearnRate: 0.05})
	for i := 0; i < 30; i++ {
		acts, err = net.Forward(x)
		require.NoError(t, err)
		grads, err := net.Backward(acts, target)
		require.NoError(t, err)
		require.NoError(t, grads.Apply(opt))
	}

	acts, err = net.Forward(x)
	require.NoError(t, err)
	after, err := net.Loss(acts, target)
	require.NoError(t, err)
	assert.Less(t, after, before)
}

func TestBackwardGradientShapes(t *testing.T) {
	net, _, err := Compile(mlpSpec())
	require.NoError(t, err)
	net.SetupForHostTraining()

	x := tensor.Ones(tensor.Shape{2, 4})
	target, err := tensor.FromSlice([]float32{1, 0, 0, 0, 1, 0}, tensor.Shape{2, 3})
	require.NoError(t, err)

	acts, err := net.Forward(x)
	require.NoError(t, err)
	grads, err := net.Backward(acts, target)
	require.NoError(t, err)

	// fc1 is layer index 1: weights [8 4], bias [8].
	fc1 := grads.ForLayer(1)
	require.Len(t, fc1, 2)
	assert.Equal(t, tensor.Shape{8, 4}, fc1[0].Shape())
	assert.Equal(t, tensor.Shape{8}, fc1[1].Shape())

	fc2 := grads.ForLayer(3)
	require.Len(t, fc2, 2)
	assert.Equal(t, tensor.Shape{3, 8}, fc2[0].Shape())
	assert.Equal(t, tensor.Shape{3}, fc2[1].Shape())
}

func TestBranchingGradientsFanIn(t *testing.T) {
	s := (&graph.Spec{}).
		Add(
			graph.LayerSpec{Kind: graph.KindFeatureInput, Name: "in", Size: []int{4}},
			graph.LayerSpec{Kind: graph.KindFullyConnected, Name: "fc", OutputSize: 4},
			graph.LayerSpec{Kind: graph.KindReLU, Name: "a"},
			graph.LayerSpec{Kind: graph.KindTanh, Name: "b"},
			graph.LayerSpec{Kind: graph.KindAddition, Name: "add", NumInputs: 2},
			graph.LayerSpec{Kind: graph.KindSoftmax, Name: "sm"},
			graph.LayerSpec{Kind: graph.KindClassification, Name: "cls", Classes: 4},
		).
		Chain("in", "fc").
		Connect("fc", "a").
		Connect("fc", "b").
		Connect("a", "add/in1").
		Connect("b", "add/in2").
		Chain("add", "sm", "cls")

	net, result, err := Compile(s)
	require.NoError(t, err)
	require.True(t, result.OK())
	net.SetupForHostTraining()

	x := tensor.Ones(tensor.Shape{1, 4})
	target, err := tensor.FromSlice([]float32{0, 1, 0, 0}, tensor.Shape{1, 4})
	require.NoError(t, err)

	acts, err := net.Forward(x)
	require.NoError(t, err)
	grads, err := net.Backward(acts, target)
	require.NoError(t, err)

	// fc's output feeds both branches; its gradient is the fan-in sum and
	// must still match the parameter shapes.
	fc := grads.ForLayer(1)
	require.Len(t, fc, 2)
	assert.Equal(t, tensor.Shape{4, 4}, fc[0].Shape())
	assert.Equal(t, tensor.Shape{4}, fc[1].Shape())
}

func TestCompileImageNetworkReordersSize(t *testing.T) {
	s := (&graph.Spec{}).
		Add(
			graph.LayerSpec{Kind: graph.KindImageInput, Name: "in", Size: []int{8, 8, 1}},
			graph.LayerSpec{Kind: graph.KindConvolution2D, Name: "conv", NumFilters: 4, Kernel: []int{3, 3}, Padding: "same"},
			graph.LayerSpec{Kind: graph.KindMaxPooling2D, Name: "mp", Pool: []int{2, 2}},
			graph.LayerSpec{Kind: graph.KindFlatten, Name: "flatten"},
			graph.LayerSpec{Kind: graph.KindFullyConnected, Name: "fc", OutputSize: 10},
			graph.LayerSpec{Kind: graph.KindSoftmax, Name: "sm"},
			graph.LayerSpec{Kind: graph.KindClassification, Name: "cls", Classes: 10},
		).
		Chain("in", "conv", "mp", "flatten", "fc", "sm", "cls")

	net, result, err := Compile(s)
	require.NoError(t, err)
	require.True(t, result.OK())

	// External [height width channels] became channels-first internally.
	assert.Equal(t, tensor.Shape{1, 8, 8}, net.InputSize())

	net.SetupForHostPrediction()
	x := tensor.Ones(tensor.Shape{1, 1, 8, 8})
	y, err := net.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 10}, y.Shape())
}

func TestCompileRejectsInvalidGraph(t *testing.T) {
	s := (&graph.Spec{}).
		Add(
			graph.LayerSpec{Kind: graph.KindFeatureInput, Name: "in", Size: []int{4}},
			graph.LayerSpec{Kind: graph.KindFullyConnected, Name: "fc", OutputSize: 3},
			graph.LayerSpec{Kind: graph.KindClassification, Name: "cls", Classes: 3},
		).
		Chain("in", "fc", "cls")

	net, result, err := Compile(s)
	require.Error(t, err)
	assert.Nil(t, net)
	require.NotNil(t, result)
	assert.False(t, result.OK())
}

func TestCompileRejectsDuplicateInputConnections(t *testing.T) {
	s := (&graph.Spec{}).
		Add(
			graph.LayerSpec{Kind: graph.KindFeatureInput, Name: "in", Size: []int{4}},
			graph.LayerSpec{Kind: graph.KindFullyConnected, Name: "fc1", OutputSize: 3},
			graph.LayerSpec{Kind: graph.KindFullyConnected, Name: "fc2", OutputSize: 3},
			graph.LayerSpec{Kind: graph.KindSoftmax, Name: "sm"},
			graph.LayerSpec{Kind: graph.KindClassification, Name: "cls", Classes: 3},
		).
		Connect("in", "fc1").
		Connect("in", "fc2").
		Connect("fc1", "sm").
		Connect("fc2", "sm"). // second edge into softmax's single input
		Connect("sm", "cls")

	net, result, err := Compile(s)
	require.Error(t, err)
	assert.Nil(t, net)
	require.NotNil(t, result)
	assert.False(t, result.OK())

	found := false
	for _, issue := range result.Issues {
		if issue.ID == "Connections:MultipleSourcesForInput" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCompileRejectsBadLayerSpec(t *testing.T) {
	_, _, err := Compile((&graph.Spec{}).Add(graph.LayerSpec{Kind: "warp", Name: "x"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")

	_, _, err = Compile((&graph.Spec{}).Add(graph.LayerSpec{Kind: graph.KindImageInput, Name: "in", Size: []int{8, 8}}))
	require.Error(t, err)
}

func TestSpecRoundTripKeepsResolvedNames(t *testing.T) {
	s := mlpSpec()
	s.Layers[1].Name = "dense"
	s.Layers[3].Name = "dense" // duplicate, gets renamed
	s.Connections = nil
	s.Chain("in", "dense", "relu", "dense_1", "sm", "cls")

	net, result, err := Compile(s)
	require.NoError(t, err)
	assert.True(t, result.OK())

	back := net.Spec()
	require.NotNil(t, back)
	assert.Equal(t, "dense", back.Layers[1].Name)
	assert.Equal(t, "dense_1", back.Layers[3].Name)
	assert.NotNil(t, net.LayerByName("dense_1"))
}

func TestMergeStatisticsAcrossNetworks(t *testing.T) {
	s := (&graph.Spec{}).
		Add(
			graph.LayerSpec{Kind: graph.KindFeatureInput, Name: "in", Size: []int{4}},
			graph.LayerSpec{Kind: graph.KindBatchNormalization, Name: "bn"},
			graph.LayerSpec{Kind: graph.KindSoftmax, Name: "sm"},
			graph.LayerSpec{Kind: graph.KindClassification, Name: "cls", Classes: 4},
		).
		Chain("in", "bn", "sm", "cls")

	build := func(seed int64, data []float32) *Network {
		net, _, err := Compile(s)
		require.NoError(t, err)
		net.Initialize(rand.New(rand.NewSource(seed)))
		net.SetupForHostTraining()
		net.PrepareForTraining()
		x, err := tensor.FromSlice(data, tensor.Shape{2, 4})
		require.NoError(t, err)
		_, err = net.Forward(x)
		require.NoError(t, err)
		return net
	}

	n1 := build(1, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	n2 := build(2, []float32{8, 7, 6, 5, 4, 3, 2, 1})

	bn1 := n1.LayerByName("bn").(*layer.BatchNormalization)
	bn2 := n2.LayerByName("bn").(*layer.BatchNormalization)
	wantN := bn1.Statistics().N + bn2.Statistics().N

	require.NoError(t, n1.MergeStatistics(n2))
	assert.InDelta(t, wantN, bn1.Statistics().N, 1e-9)
	n1.Finalize()
}

func TestSliceSourceBatches(t *testing.T) {
	x := tensor.Ones(tensor.Shape{5, 3})
	for i, v := range []float32{0, 1, 2, 3, 4} {
		for j := 0; j < 3; j++ {
			x.Float32s()[i*3+j] = v
		}
	}
	target := tensor.Zeros(tensor.Shape{5, 2})

	src, err := NewSliceSource(x, target, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, src.NumObservations())
	assert.Equal(t, 2, src.MiniBatchSize())
	assert.Equal(t, tensor.Shape{2}, src.ResponseSize())

	src.Start()
	var seen []int
	var sizes []int
	for !src.IsDone() {
		bx, bt, idx, err := src.NextBatch()
		require.NoError(t, err)
		assert.Equal(t, len(idx), bx.Shape()[0])
		assert.Equal(t, len(idx), bt.Shape()[0])
		// Row content follows the observation index.
		for k, i := range idx {
			assert.Equal(t, float32(i), bx.Float32s()[k*3])
		}
		seen = append(seen, idx...)
		sizes = append(sizes, len(idx))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, seen)

	// Shuffle permutes, Start rewinds, and every observation still appears.
	src.Shuffle(rand.New(rand.NewSource(3)))
	src.Start()
	seen = seen[:0]
	for !src.IsDone() {
		_, _, idx, err := src.NextBatch()
		require.NoError(t, err)
		seen = append(seen, idx...)
	}
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, seen)

	_, _, _, err = src.NextBatch()
	assert.Error(t, err)
}

func TestAssembleRunsCustomLayers(t *testing.T) {
	layers := []layer.Layer{
		layer.NewFeatureInput("in", 3),
		layer.NewCustomLayer("twice", doubler{}),
		layer.NewRegression("reg", 3),
	}
	cs := []graph.Connection{
		{Source: "in", Destination: "twice"},
		{Source: "twice", Destination: "reg"},
	}

	net, result, err := Assemble(layers, cs)
	require.NoError(t, err)
	assert.True(t, result.OK())
	net.SetupForHostPrediction()

	x, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{1, 3})
	require.NoError(t, err)
	y, err := net.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4, 6}, y.Float32s())
}

// doubler is a parameter-free custom layer.
type doubler struct{}

func (doubler) Predict(x *tensor.Dense) (*tensor.Dense, error) {
	z := x.Clone()
	d := z.Float32s()
	for i := range d {
		d[i] *= 2
	}
	return z, nil
}

func (d doubler) Forward(x *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	z, err := d.Predict(x)
	return z, nil, err
}

func (doubler) Backward(x, z, dz, memory *tensor.Dense) (*tensor.Dense, []*tensor.Dense, error) {
	dx := dz.Clone()
	d := dx.Float32s()
	for i := range d {
		d[i] *= 2
	}
	return dx, nil, nil
}
