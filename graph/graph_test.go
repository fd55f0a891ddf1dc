package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPortRef(t *testing.T) {
	l, p := SplitPortRef("maxpool/indices")
	assert.Equal(t, "maxpool", l)
	assert.Equal(t, "indices", p)

	l, p = SplitPortRef("conv")
	assert.Equal(t, "conv", l)
	assert.Equal(t, "", p)

	assert.Equal(t, "maxpool/indices", PortRef("maxpool", "indices"))
	assert.Equal(t, "conv", PortRef("conv", ""))
}

func TestSpecJSONRoundTrip(t *testing.T) {
	s := (&Spec{}).
		Add(
			LayerSpec{Kind: KindImageInput, Name: "in", Size: []int{28, 28, 1}},
			LayerSpec{Kind: KindConvolution2D, Name: "conv", NumFilters: 8, Kernel: []int{3, 3}, Stride: []int{1, 1}, Padding: "same"},
			LayerSpec{Kind: KindSoftmax, Name: "sm"},
			LayerSpec{Kind: KindClassification, Name: "cls", Classes: 10},
		).
		Chain("in", "conv", "sm", "cls")

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var back Spec
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s.Layers, back.Layers)
	assert.Equal(t, s.Connections, back.Connections)
}

func TestChainBuildsSequentialConnections(t *testing.T) {
	s := (&Spec{}).Chain("a", "b", "c")
	require.Len(t, s.Connections, 2)
	assert.Equal(t, Connection{Source: "a", Destination: "b"}, s.Connections[0])
	assert.Equal(t, Connection{Source: "b", Destination: "c"}, s.Connections[1])
}
