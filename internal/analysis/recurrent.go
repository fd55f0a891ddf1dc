package analysis

// checkSequenceImageCoexistence reports networks mixing recurrent or other
// sequence-specific layers with image-specific layers. Sequence data is laid
// out per timestep and image data per pixel grid, so the two families cannot
// share a network. The recurrent variant takes precedence; the generic
// sequence variant is only reported when no recurrent layer is present.
func checkSequenceImageCoexistence(m *Model) {
	var rnns, seqs, images []int
	for i, la := range m.Layers {
		if la.IsRNNLayer {
			rnns = append(rnns, i)
		} else if la.IsSequenceSpecificLayer {
			seqs = append(seqs, i)
		}
		if la.IsImageSpecificLayer {
			images = append(images, i)
		}
	}
	if len(images) == 0 {
		return
	}
	if len(rnns) > 0 {
		indices := append(append([]int{}, rnns...), images...)
		m.addLayers(Error, indices, "LSTM", "RecurrentAndImageLayers",
			"recurrent layers cannot be combined with image-specific layers in the same network")
		return
	}
	if len(seqs) > 0 {
		indices := append(append([]int{}, seqs...), images...)
		m.addLayers(Error, indices, "LSTM", "SequenceAndImageLayers",
			"sequence-specific layers cannot be combined with image-specific layers in the same network")
	}
}
