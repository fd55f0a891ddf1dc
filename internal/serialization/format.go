// Package serialization implements the .plx parameter file format: a small
// binary container for named float32 tensors, used to checkpoint and restore
// a network's learnable parameters.
//
// Layout:
//
//	magic "PLEX" (4 bytes)
//	format version (uint32 LE)
//	header length (uint32 LE)
//	JSON header (tensor metadata + SHA-256 of the data section)
//	data section (float32 LE, tensors back to back in header order)
package serialization

import "github.com/plexus-ml/plexus/internal/tensor"

const (
	Magic         = "PLEX"
	FormatVersion = 1
)

// Header is the JSON header of a .plx file.
type Header struct {
	FormatVersion int          `json:"format_version"`
	Tensors       []TensorMeta `json:"tensors"`
	Checksum      string       `json:"checksum"` // hex SHA-256 of the data section
}

// TensorMeta describes one tensor in the data section.
type TensorMeta struct {
	Name   string `json:"name"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // byte offset into the data section
	Size   int64  `json:"size"`   // byte length
}

// Entry pairs a name with a tensor for writing.
type Entry struct {
	Name  string
	Value *tensor.Dense
}
