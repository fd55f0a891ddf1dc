// Package tensor provides the numeric array substrate for the plexus core:
// shapes, element types, device residency, and the Dense array that layer
// execution strategies operate on.
package tensor

// DataType is runtime type information for a Dense array.
type DataType int

// Supported element types. Float32 is the compute type; Float64 exists so
// that type-compatibility checks (custom layer verification) are meaningful.
const (
	Float32 DataType = iota
	Float64
)

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "unknown"
	}
}

// Device identifies where an array's backing memory lives.
type Device int

// Supported devices. Host is plain Go memory; Accel is an accelerator
// reachable through the device package (WebGPU).
const (
	Host Device = iota
	Accel
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case Host:
		return "Host"
	case Accel:
		return "Accel"
	default:
		return "Unknown"
	}
}
