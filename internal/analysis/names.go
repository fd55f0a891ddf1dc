package analysis

import "fmt"

// checkRenamedLayers warns when a layer the user actually named had to be
// renamed to resolve a duplicate. Synthesized names (no name given) are not
// worth a warning.
func checkRenamedLayers(m *Model) {
	for i, la := range m.Layers {
		if la.OriginalName == "" || la.DisplayName == la.OriginalName {
			continue
		}
		m.addLayerWarning(i, "Names", "DuplicateNameRenamed",
			fmt.Sprintf("layer \"%s\" was renamed to \"%s\" to resolve a duplicate name",
				la.OriginalName, la.DisplayName))
	}
}
