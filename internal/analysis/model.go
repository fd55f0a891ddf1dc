// Package analysis implements the static network analyzer: it builds a
// per-layer model of a layer graph, orders the layers pseudo-topologically,
// propagates per-observation sizes, and runs a registry of constraint rules
// that append Issues. One run reports every discoverable problem; the caller
// decides whether training proceeds.
package analysis

import (
	"sort"
	"strconv"
	"strings"

	"github.com/plexus-ml/plexus/internal/layer"
	"github.com/plexus-ml/plexus/internal/tensor"
)

// Connection names a directed edge between layer ports. A bare layer name
// addresses port 1; "layer/port" addresses a named port.
type Connection struct {
	Source      string
	Destination string
}

// SplitPortRef splits a connection endpoint into layer and port name. The
// port is everything after the last slash, empty for a bare layer name.
func SplitPortRef(ref string) (layerName, portName string) {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// sizeState tracks the outcome of size propagation for one layer.
type sizeState int

const (
	sizeOK sizeState = iota
	// sizeSuppressed means the layer's own sizes could not be checked
	// because an input is missing or already invalid upstream; another rule
	// or the originating layer carries the report.
	sizeSuppressed
	sizeBad
)

// PortRow is one declared port of a layer with its propagation state.
type PortRow struct {
	Name      string
	Size      tensor.Shape // nil when missing or invalid
	Connected bool
}

// LayerAnalyzer is the per-layer annotation the rules read. Classification
// flags are fixed at build time; port sizes mutate during propagation.
type LayerAnalyzer struct {
	Index       int
	Layer       layer.Layer
	DisplayName string
	// OriginalName is the name given at construction, before default-name
	// synthesis and duplicate renaming. Empty when none was given.
	OriginalName string

	Inputs  []PortRow
	Outputs []PortRow

	IsInputLayer            bool
	IsOutputLayer           bool
	IsRNNLayer              bool
	IsCustomLayer           bool
	IsClassificationLayer   bool
	IsSoftmaxLayer          bool
	IsSequenceSpecificLayer bool
	IsImageSpecificLayer    bool

	state    sizeState
	inferErr error
}

// Model is the shared state every rule reads. Internal is the N×4
// connections matrix [srcLayer, srcPort, dstLayer, dstPort] with 0-based
// layer indices and 1-based ports, sorted by tuple. Position holds each
// layer's place in the pseudo-topological order: for every acyclic
// connection Position[src] < Position[dst], so a cycle shows up as a
// connection with Position[src] >= Position[dst].
type Model struct {
	Layers   []*LayerAnalyzer
	Internal [][4]int
	Position []int

	issues []Issue
}

func (m *Model) addIssue(i Issue) { m.issues = append(m.issues, i) }

func (m *Model) addLayers(severity Severity, indices []int, category, rule, message string) {
	names := make([]string, len(indices))
	for i, idx := range indices {
		names[i] = m.Layers[idx].DisplayName
	}
	m.addIssue(Issue{
		LayerIndices: indices,
		DisplayNames: names,
		Severity:     severity,
		Category:     category,
		ID:           category + ":" + rule,
		Message:      message,
	})
}

func (m *Model) addLayerError(idx int, category, rule, message string) {
	m.addLayers(Error, []int{idx}, category, rule, message)
}

func (m *Model) addLayerWarning(idx int, category, rule, message string) {
	m.addLayers(Warning, []int{idx}, category, rule, message)
}

// build constructs the model: resolves display names, converts the external
// connections to the internal matrix, computes the pseudo-topological order,
// and runs size propagation. Unresolvable connection endpoints become Issues
// immediately and the affected connections are dropped from the matrix.
func build(layers []layer.Layer, conns []Connection) *Model {
	m := &Model{
		Layers:   make([]*LayerAnalyzer, len(layers)),
		Position: make([]int, len(layers)),
	}

	resolveNames(layers)

	for i, l := range layers {
		la := &LayerAnalyzer{
			Index:        i,
			Layer:        l,
			DisplayName:  l.Name(),
			OriginalName: l.OriginalName(),

			IsInputLayer:            layer.IsInput(l),
			IsOutputLayer:           layer.IsOutput(l),
			IsRNNLayer:              layer.IsRecurrent(l),
			IsCustomLayer:           layer.IsCustom(l),
			IsClassificationLayer:   layer.IsClassification(l),
			IsSoftmaxLayer:          layer.IsSoftmax(l),
			IsSequenceSpecificLayer: layer.IsSequenceSpecific(l),
			IsImageSpecificLayer:    layer.IsImageSpecific(l),
		}
		for _, name := range l.InputNames() {
			la.Inputs = append(la.Inputs, PortRow{Name: name})
		}
		for _, name := range l.OutputNames() {
			la.Outputs = append(la.Outputs, PortRow{Name: name})
		}
		m.Layers[i] = la
	}

	m.resolveConnections(layers, conns)
	m.orderLayers()
	m.propagate()
	return m
}

// resolveNames gives every layer a unique display name: empty names get the
// kind's default, duplicates get a numeric suffix. The original name is kept
// on the layer so the names rule can detect meaningful renames.
func resolveNames(layers []layer.Layer) {
	taken := make(map[string]bool, len(layers))
	for _, l := range layers {
		name := l.Name()
		if name == "" {
			name = l.DefaultName()
		}
		if taken[name] {
			base := name
			for k := 1; ; k++ {
				name = base + "_" + strconv.Itoa(k)
				if !taken[name] {
					break
				}
			}
		}
		taken[name] = true
		if name != l.Name() {
			l.SetName(name)
		}
	}
}

func (m *Model) resolveConnections(layers []layer.Layer, conns []Connection) {
	index := make(map[string]int, len(layers))
	for i, l := range layers {
		index[l.Name()] = i
	}

	portNumber := func(names []string, port string) int {
		if port == "" {
			if len(names) == 0 {
				return -1
			}
			return 1
		}
		for i, n := range names {
			if n == port {
				return i + 1
			}
		}
		return -1
	}

	for _, c := range conns {
		srcName, srcPort := SplitPortRef(c.Source)
		dstName, dstPort := SplitPortRef(c.Destination)

		src, ok := index[srcName]
		if !ok {
			m.addIssue(Issue{
				Severity: Error,
				Category: "Connections",
				ID:       "Connections:UnknownSourceLayer",
				Message:  "connection from unknown layer \"" + srcName + "\"",
			})
			continue
		}
		dst, ok := index[dstName]
		if !ok {
			m.addIssue(Issue{
				Severity: Error,
				Category: "Connections",
				ID:       "Connections:UnknownDestinationLayer",
				Message:  "connection to unknown layer \"" + dstName + "\"",
			})
			continue
		}

		sp := portNumber(layers[src].OutputNames(), srcPort)
		if sp < 0 {
			m.addLayerError(src, "Connections", "UnknownSourcePort",
				"layer has no output port \""+srcPort+"\"")
			continue
		}
		dp := portNumber(layers[dst].InputNames(), dstPort)
		if dp < 0 {
			if len(layers[dst].InputNames()) == 0 && layer.IsInput(layers[dst]) {
				m.addLayerError(dst, "Connections", "InputLayerDestination",
					"input layers cannot receive connections")
			} else {
				m.addLayerError(dst, "Connections", "UnknownDestinationPort",
					"layer has no input port \""+dstPort+"\"")
			}
			continue
		}

		m.Internal = append(m.Internal, [4]int{src, sp, dst, dp})
	}

	sort.Slice(m.Internal, func(a, b int) bool {
		x, y := m.Internal[a], m.Internal[b]
		for k := 0; k < 4; k++ {
			if x[k] != y[k] {
				return x[k] < y[k]
			}
		}
		return false
	})
}

// orderLayers computes the pseudo-topological positions with Kahn's
// algorithm, always picking the smallest ready index so the order is
// deterministic. Layers left over after a cycle are appended in original
// order; every layer gets a position, so propagation and the rules can walk
// cyclic graphs too.
func (m *Model) orderLayers() {
	n := len(m.Layers)
	indegree := make([]int, n)
	adj := make([][]int, n)
	seen := make(map[[2]int]bool, len(m.Internal))
	for _, c := range m.Internal {
		edge := [2]int{c[0], c[2]}
		if seen[edge] || c[0] == c[2] {
			continue
		}
		seen[edge] = true
		adj[c[0]] = append(adj[c[0]], c[2])
		indegree[c[2]]++
	}

	placed := make([]bool, n)
	pos := 0
	for pos < n {
		next := -1
		for i := 0; i < n; i++ {
			if !placed[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			break // remainder is cyclic
		}
		placed[next] = true
		m.Position[next] = pos
		pos++
		for _, d := range adj[next] {
			indegree[d]--
		}
	}
	for i := 0; i < n; i++ {
		if !placed[i] {
			m.Position[i] = pos
			pos++
		}
	}
}

// propagate walks the layers in pseudo-topological order, feeding each one
// the sizes arriving on its connected input ports. A missing or invalid
// input marks the layer suppressed rather than bad: the report belongs to
// the originating layer (or the connections rule), never to downstream
// consumers of a bad size.
func (m *Model) propagate() {
	order := make([]int, len(m.Layers))
	for i, p := range m.Position {
		order[p] = i
	}

	for _, i := range order {
		la := m.Layers[i]

		inputs := make([]tensor.Shape, len(la.Inputs))
		missing, upstreamBad := false, false
		for p := range la.Inputs {
			src, sp, ok := m.connectionInto(i, p+1)
			if !ok {
				missing = true
				continue
			}
			la.Inputs[p].Connected = true
			size := m.Layers[src].Outputs[sp-1].Size
			la.Inputs[p].Size = size
			inputs[p] = size
			if !size.IsValid() {
				upstreamBad = true
			}
		}

		switch {
		case missing:
			la.state = sizeSuppressed
		case upstreamBad:
			la.state = sizeSuppressed
		default:
			la.inferErr = la.Layer.InferSize(inputs)
			outs := la.Layer.ForwardPropagateSize(inputs)
			bad := la.inferErr != nil || !la.Layer.IsValidInputSize(inputs)
			for p := range la.Outputs {
				if p < len(outs) {
					la.Outputs[p].Size = outs[p]
				}
				if !la.Outputs[p].Size.IsValid() {
					bad = true
				}
			}
			if bad {
				la.state = sizeBad
			}
		}

		for _, c := range m.Internal {
			if c[0] == i {
				la.Outputs[c[1]-1].Connected = true
			}
		}
	}
}

// connectionInto returns the connection feeding the given input port, the
// first row in sorted order when a bad graph carries more than one. The
// duplicate-input rule turns such graphs into errors before execution.
func (m *Model) connectionInto(dst, dstPort int) (src, srcPort int, ok bool) {
	for _, c := range m.Internal {
		if c[2] == dst && c[3] == dstPort {
			return c[0], c[1], true
		}
	}
	return 0, 0, false
}

// predecessors returns the distinct layers with a connection into dst.
func (m *Model) predecessors(dst int) []int {
	var out []int
	seen := make(map[int]bool)
	for _, c := range m.Internal {
		if c[2] == dst && !seen[c[0]] {
			seen[c[0]] = true
			out = append(out, c[0])
		}
	}
	return out
}
