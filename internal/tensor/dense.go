package tensor

import (
	"fmt"
	"unsafe"
)

// Dense is a row-major dense array with runtime type and device residency
// information. It is the value flowing between layers: mini-batch inputs,
// activations, gradients, and learnable parameter values.
//
// Dense is not safe for concurrent mutation; each array has one logical
// owner (the layer or the trainer holding it).
type Dense struct {
	data   []byte
	shape  Shape
	stride []int
	dtype  DataType
	device Device
}

// NewDense allocates a zero-filled array with the given shape and type.
func NewDense(shape Shape, dtype DataType, device Device) (*Dense, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &Dense{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// FromSlice creates a Float32 host array from a Go slice. The slice is
// copied into the array's memory.
func FromSlice(data []float32, shape Shape) (*Dense, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d",
			shape, shape.NumElements(), len(data))
	}
	d, err := NewDense(shape, Float32, Host)
	if err != nil {
		return nil, err
	}
	copy(d.Float32s(), data)
	return d, nil
}

// Zeros allocates a zero-filled Float32 host array. Panics on an invalid
// shape: all callers pass shapes already validated by size inference.
func Zeros(shape Shape) *Dense {
	d, err := NewDense(shape, Float32, Host)
	if err != nil {
		panic(fmt.Sprintf("zeros: %v", err))
	}
	return d
}

// Ones allocates a one-filled Float32 host array.
func Ones(shape Shape) *Dense {
	return Full(shape, 1)
}

// Full allocates a Float32 host array filled with value.
func Full(shape Shape, value float32) *Dense {
	d := Zeros(shape)
	ds := d.Float32s()
	for i := range ds {
		ds[i] = value
	}
	return d
}

// Shape returns the array's shape.
func (d *Dense) Shape() Shape { return d.shape }

// Strides returns the array's row-major strides.
func (d *Dense) Strides() []int { return d.stride }

// DType returns the array's element type.
func (d *Dense) DType() DataType { return d.dtype }

// Device returns where the array's authoritative copy lives.
func (d *Dense) Device() Device { return d.device }

// NumElements returns the total number of elements.
func (d *Dense) NumElements() int { return d.shape.NumElements() }

// Bytes returns the raw backing memory.
func (d *Dense) Bytes() []byte { return d.data }

// Float32s returns the data as a []float32 view (zero-copy).
// Panics if the element type is not Float32.
func (d *Dense) Float32s() []float32 {
	if d.dtype != Float32 {
		panic(fmt.Sprintf("tensor: Float32s on %s array", d.dtype))
	}
	if len(d.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&d.data[0])), len(d.data)/4)
}

// Float64s returns the data as a []float64 view (zero-copy).
// Panics if the element type is not Float64.
func (d *Dense) Float64s() []float64 {
	if d.dtype != Float64 {
		panic(fmt.Sprintf("tensor: Float64s on %s array", d.dtype))
	}
	if len(d.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&d.data[0])), len(d.data)/8)
}

// At returns the Float32 element at the given indices.
func (d *Dense) At(indices ...int) float32 {
	return d.Float32s()[d.offsetOf(indices)]
}

// Set assigns the Float32 element at the given indices.
func (d *Dense) Set(value float32, indices ...int) {
	d.Float32s()[d.offsetOf(indices)] = value
}

func (d *Dense) offsetOf(indices []int) int {
	if len(indices) != len(d.shape) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(d.shape), len(indices)))
	}
	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= d.shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, d.shape[i]))
		}
		offset += idx * d.stride[i]
	}
	return offset
}

// Reshape returns a view over the same data with a new shape. The element
// count must be unchanged.
func (d *Dense) Reshape(shape Shape) (*Dense, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	if shape.NumElements() != d.NumElements() {
		return nil, fmt.Errorf("reshape: incompatible shapes %v -> %v", d.shape, shape)
	}
	return &Dense{
		data:   d.data,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  d.dtype,
		device: d.device,
	}, nil
}

// Clone creates a deep copy of the array.
func (d *Dense) Clone() *Dense {
	data := make([]byte, len(d.data))
	copy(data, d.data)
	return &Dense{
		data:   data,
		shape:  d.shape.Clone(),
		stride: d.shape.ComputeStrides(),
		dtype:  d.dtype,
		device: d.device,
	}
}

// String returns a human-readable description of the array.
func (d *Dense) String() string {
	return fmt.Sprintf("Dense[%s]%v on %s", d.dtype, d.shape, d.device)
}
