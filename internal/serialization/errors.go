package serialization

import "errors"

var (
	ErrBadMagic           = errors.New("not a .plx parameter file")
	ErrUnsupportedVersion = errors.New("unsupported .plx format version")
	ErrChecksumMismatch   = errors.New("parameter data checksum mismatch")
)
