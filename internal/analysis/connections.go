package analysis

import (
	"fmt"
	"strings"

	"github.com/plexus-ml/plexus/internal/layer"
)

// checkCycles flags every internal connection that goes backwards (or to
// itself) in the pseudo-topological order. For an acyclic graph the ordering
// guarantees source positions strictly precede destination positions, so no
// separate traversal is needed; equality marks a self-loop.
func checkCycles(m *Model) {
	for _, c := range m.Internal {
		src, dst := c[0], c[2]
		if m.Position[src] < m.Position[dst] {
			continue
		}
		if src == dst {
			m.addLayerError(src, "Connections", "SelfLoop",
				"layer is connected to itself")
			continue
		}
		m.addLayers(Error, []int{src, dst}, "Connections", "ConnectionCycle",
			fmt.Sprintf("the connection from \"%s\" to \"%s\" creates a cycle",
				m.Layers[src].DisplayName, m.Layers[dst].DisplayName))
	}
}

// checkMissingInputs reports declared input ports with no incoming
// connection. A single-port layer gets the unqualified message; a multi-port
// layer names the specific ports. Entirely disconnected layers are skipped,
// the components rule already covers them.
func checkMissingInputs(m *Model) {
	for i, la := range m.Layers {
		if len(la.Inputs) == 0 || m.disconnected(i) {
			continue
		}
		var missing []string
		for _, in := range la.Inputs {
			if !in.Connected {
				missing = append(missing, "\""+in.Name+"\"")
			}
		}
		if len(missing) == 0 {
			continue
		}
		var msg string
		if len(la.Inputs) == 1 {
			msg = "layer does not have an input"
		} else {
			msg = fmt.Sprintf("layer is missing a connection into input port(s) %s", strings.Join(missing, ", "))
		}
		m.addLayerError(i, "Connections", "MissingInputs", msg)
	}
}

// checkMultipleSources reports input ports fed by more than one forward
// connection: execution would silently pick one and ignore the rest. Back
// edges into an otherwise-fed port belong to the cycle rule and are not
// counted, so a two-layer cycle reports the cycle, not a duplicate input.
func checkMultipleSources(m *Model) {
	forward := make(map[[2]int]int)
	for _, c := range m.Internal {
		if c[0] == c[2] || m.Position[c[0]] >= m.Position[c[2]] {
			continue
		}
		forward[[2]int{c[2], c[3]}]++
	}
	for i, la := range m.Layers {
		for p, in := range la.Inputs {
			if forward[[2]int{i, p + 1}] < 2 {
				continue
			}
			msg := "layer input has more than one incoming connection"
			if len(la.Inputs) > 1 {
				msg = fmt.Sprintf("input port %q has more than one incoming connection", in.Name)
			}
			m.addLayerError(i, "Connections", "MultipleSourcesForInput", msg)
		}
	}
}

// checkUnusedOutputs warns about declared output ports nothing consumes.
// Secondary ports like pooling indices are commonly unused, so this never
// blocks training.
func checkUnusedOutputs(m *Model) {
	for i, la := range m.Layers {
		if len(la.Outputs) == 0 || m.disconnected(i) {
			continue
		}
		optional := map[string]bool{}
		if o, ok := la.Layer.(layer.OptionalOutputs); ok {
			for _, name := range o.OptionalOutputPorts() {
				optional[name] = true
			}
		}
		var unused []string
		for _, out := range la.Outputs {
			if !out.Connected && !optional[out.Name] {
				unused = append(unused, "\""+out.Name+"\"")
			}
		}
		if len(unused) == 0 {
			continue
		}
		var msg string
		if len(la.Outputs) == 1 {
			msg = "layer output is not used"
		} else {
			msg = fmt.Sprintf("output port(s) %s are not used", strings.Join(unused, ", "))
		}
		m.addLayerWarning(i, "Connections", "UnusedOutputs", msg)
	}
}

// disconnected reports whether no connection touches the layer at all.
func (m *Model) disconnected(i int) bool {
	for _, c := range m.Internal {
		if c[0] == i || c[2] == i {
			return false
		}
	}
	return true
}
