package analysis

import (
	"fmt"
	"strings"
)

// checkPropagatedSizes reports layers that rejected the sizes arriving on
// their connected inputs. Layers suppressed by a missing or already-invalid
// upstream size are skipped so a single bad layer is blamed exactly once.
func checkPropagatedSizes(m *Model) {
	for i, la := range m.Layers {
		if la.state != sizeBad {
			continue
		}
		if la.inferErr != nil {
			m.addLayerError(i, "Propagation", "InvalidInputSize", la.inferErr.Error())
			continue
		}
		parts := make([]string, len(la.Inputs))
		for p, in := range la.Inputs {
			parts[p] = fmt.Sprintf("%s is %s", in.Name, in.Size)
		}
		m.addLayerError(i, "Propagation", "InvalidInputSize",
			"layer cannot accept the size of its input: "+strings.Join(parts, ", "))
	}
}
