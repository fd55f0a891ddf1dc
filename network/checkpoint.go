package network

import (
	"fmt"
	"io"

	"github.com/plexus-ml/plexus/internal/param"
	"github.com/plexus-ml/plexus/internal/serialization"
)

// SaveParameters writes every learnable parameter to w in .plx format,
// keyed by parameter name.
func (n *Network) SaveParameters(w io.Writer) error {
	var entries []serialization.Entry
	for _, l := range n.layers {
		for _, p := range l.Learnables() {
			entries = append(entries, serialization.Entry{Name: p.Name(), Value: p.Value()})
		}
	}
	return serialization.Write(w, entries)
}

// LoadParameters restores learnable parameters from a .plx stream written
// by SaveParameters on a network with the same architecture. Every stored
// tensor must match a parameter by name and shape, and every parameter must
// be covered.
func (n *Network) LoadParameters(r io.Reader) error {
	entries, err := serialization.Read(r)
	if err != nil {
		return err
	}

	byName := make(map[string]*param.Learnable)
	for _, l := range n.layers {
		for _, p := range l.Learnables() {
			byName[p.Name()] = p
		}
	}

	loaded := make(map[string]bool, len(entries))
	for _, e := range entries {
		p, ok := byName[e.Name]
		if !ok {
			return fmt.Errorf("network: no parameter named %q", e.Name)
		}
		if !e.Value.Shape().Equal(p.Value().Shape()) {
			return fmt.Errorf("network: parameter %q has shape %v, file has %v",
				e.Name, p.Value().Shape(), e.Value.Shape())
		}
		p.SetValue(e.Value)
		loaded[e.Name] = true
	}

	if len(loaded) != len(byName) {
		for name := range byName {
			if !loaded[name] {
				return fmt.Errorf("network: parameter %q missing from file", name)
			}
		}
	}
	return nil
}
