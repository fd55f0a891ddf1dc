package analysis

import (
	"fmt"
	"sort"
	"strings"
)

// checkInputOutputLayers enforces exactly one input layer and one output
// layer, with distinct message variants for missing and multiple.
func checkInputOutputLayers(m *Model) {
	var inputs, outputs []int
	for i, la := range m.Layers {
		if la.IsInputLayer {
			inputs = append(inputs, i)
		}
		if la.IsOutputLayer {
			outputs = append(outputs, i)
		}
	}

	switch {
	case len(inputs) == 0:
		m.addIssue(Issue{
			Severity: Error,
			Category: "Architecture",
			ID:       "Architecture:MissingInputLayer",
			Message:  "the network has no input layer",
		})
	case len(inputs) > 1:
		m.addLayers(Error, inputs, "Architecture", "MultipleInputLayers",
			fmt.Sprintf("the network has %d input layers (%s); exactly one is allowed",
				len(inputs), joinNames(m, inputs)))
	}

	switch {
	case len(outputs) == 0:
		m.addIssue(Issue{
			Severity: Error,
			Category: "Architecture",
			ID:       "Architecture:MissingOutputLayer",
			Message:  "the network has no output layer",
		})
	case len(outputs) > 1:
		m.addLayers(Error, outputs, "Architecture", "MultipleOutputLayers",
			fmt.Sprintf("the network has %d output layers (%s); exactly one is allowed",
				len(outputs), joinNames(m, outputs)))
	}
}

// checkConnectedComponents requires the graph, viewed as undirected, to be
// one connected component. Components are ranked largest first; singletons
// are reported as disconnected layers, smaller multi-layer components as
// separate components.
func checkConnectedComponents(m *Model) {
	n := len(m.Layers)
	if n == 0 {
		return
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, c := range m.Internal {
		a, b := find(c[0]), find(c[2])
		if a != b {
			parent[a] = b
		}
	}

	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		r := find(i)
		groups[r] = append(groups[r], i)
	}
	if len(groups) == 1 {
		return
	}

	components := make([][]int, 0, len(groups))
	for _, g := range groups {
		components = append(components, g)
	}
	sort.Slice(components, func(a, b int) bool {
		if len(components[a]) != len(components[b]) {
			return len(components[a]) > len(components[b])
		}
		return components[a][0] < components[b][0]
	})

	var singletons []int
	var extra [][]int
	for _, comp := range components[1:] {
		if len(comp) == 1 {
			singletons = append(singletons, comp[0])
		} else {
			extra = append(extra, comp)
		}
	}

	if len(singletons) > 0 {
		m.addLayers(Error, singletons, "Architecture", "DisconnectedLayers",
			fmt.Sprintf("layer(s) %s are not connected to the rest of the network", joinNames(m, singletons)))
	}
	for _, comp := range extra {
		m.addLayers(Error, comp, "Architecture", "MultipleComponents",
			fmt.Sprintf("layers %s form a separate component disconnected from the main network", joinNames(m, comp)))
	}
}

// checkClassificationSoftmax requires every classification layer's sole
// immediate predecessor to be a softmax layer.
func checkClassificationSoftmax(m *Model) {
	for i, la := range m.Layers {
		if !la.IsClassificationLayer {
			continue
		}
		preds := m.predecessors(i)
		if len(preds) == 1 && m.Layers[preds[0]].IsSoftmaxLayer {
			continue
		}
		if len(preds) == 0 {
			// The connections rule reports the missing input.
			continue
		}
		m.addLayerError(i, "Architecture", "ClassificationMustBePrecededBySoftmax",
			"a classification layer must have a softmax layer as its only preceding layer")
	}
}

// checkRegressionSoftmax rejects a softmax layer feeding a regression
// output.
func checkRegressionSoftmax(m *Model) {
	for i, la := range m.Layers {
		if !la.IsOutputLayer || la.IsClassificationLayer {
			continue
		}
		for _, p := range m.predecessors(i) {
			if m.Layers[p].IsSoftmaxLayer {
				m.addLayerError(i, "Architecture", "RegressionPrecededBySoftmax",
					"a regression layer cannot be preceded by a softmax layer")
				break
			}
		}
	}
}

func joinNames(m *Model, indices []int) string {
	names := make([]string, len(indices))
	for i, idx := range indices {
		names[i] = "\"" + m.Layers[idx].DisplayName + "\""
	}
	return strings.Join(names, ", ")
}
