package serialization

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// Write serializes the entries in order. Tensor data is written back to
// back; the header records each tensor's offset and a checksum of the whole
// data section.
func Write(w io.Writer, entries []Entry) error {
	var data []byte
	metas := make([]TensorMeta, len(entries))
	for i, e := range entries {
		if e.Value == nil {
			return fmt.Errorf("serialization: entry %q has no value", e.Name)
		}
		offset := int64(len(data))
		for _, v := range e.Value.Float32s() {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
		}
		metas[i] = TensorMeta{
			Name:   e.Name,
			Shape:  append([]int(nil), e.Value.Shape()...),
			Offset: offset,
			Size:   int64(len(data)) - offset,
		}
	}

	sum := sha256.Sum256(data)
	header, err := json.Marshal(Header{
		FormatVersion: FormatVersion,
		Tensors:       metas,
		Checksum:      hex.EncodeToString(sum[:]),
	})
	if err != nil {
		return err
	}

	if _, err := io.WriteString(w, Magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(FormatVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(header))); err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
