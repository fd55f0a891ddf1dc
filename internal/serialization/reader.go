package serialization

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/plexus-ml/plexus/internal/tensor"
)

// Read parses a .plx stream and returns the named tensors in file order.
func Read(r io.Reader) ([]Entry, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("serialization: %w", err)
	}
	if string(magic) != Magic {
		return nil, ErrBadMagic
	}

	var version, headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, err
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, err
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("serialization: bad header: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != header.Checksum {
		return nil, ErrChecksumMismatch
	}

	entries := make([]Entry, len(header.Tensors))
	for i, meta := range header.Tensors {
		if meta.Offset < 0 || meta.Offset+meta.Size > int64(len(data)) || meta.Size%4 != 0 {
			return nil, fmt.Errorf("serialization: tensor %q has bad extent [%d,%d) in %d data bytes",
				meta.Name, meta.Offset, meta.Offset+meta.Size, len(data))
		}
		vals := make([]float32, meta.Size/4)
		for k := range vals {
			bits := binary.LittleEndian.Uint32(data[meta.Offset+int64(4*k):])
			vals[k] = math.Float32frombits(bits)
		}
		value, err := tensor.FromSlice(vals, tensor.Shape(meta.Shape))
		if err != nil {
			return nil, fmt.Errorf("serialization: tensor %q: %w", meta.Name, err)
		}
		entries[i] = Entry{Name: meta.Name, Value: value}
	}
	return entries, nil
}
