// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/x448/float16"

	"github.com/born-ml/sdpa/internal/tensor"
)

// DataType is the element precision of a view.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float16 DataType = tensor.Float16
	Uint8   DataType = tensor.Uint8
	Int32   DataType = tensor.Int32
)

// Shape represents the dimensions of a view.
// Example: Shape{2, 8, 16, 64} is [batch, heads, length, headSize].
type Shape = tensor.Shape

// View is a strided window over caller-owned storage.
type View = tensor.View

// FromFloat32 wraps data as a row-major view of shape without copying.
func FromFloat32(data []float32, shape Shape) (View, error) {
	return tensor.FromFloat32(data, shape)
}

// FromFloat16 wraps data as a row-major half precision view.
func FromFloat16(data []float16.Float16, shape Shape) (View, error) {
	return tensor.FromFloat16(data, shape)
}

// FromUint8 wraps data as a row-major view. Used for boolean masks.
func FromUint8(data []uint8, shape Shape) (View, error) {
	return tensor.FromUint8(data, shape)
}

// FromInt32 wraps data as a row-major view.
func FromInt32(data []int32, shape Shape) (View, error) {
	return tensor.FromInt32(data, shape)
}

// Alloc returns a zeroed row-major view backed by new storage.
func Alloc(dt DataType, shape Shape) View {
	return tensor.Alloc(dt, shape)
}

// Must panics if err is non-nil and returns v otherwise.
//
// Example:
//
//	mask := tensor.Must(tensor.FromUint8(keep, tensor.Shape{batch, kvLen}))
func Must(v View, err error) View {
	return tensor.Must(v, err)
}

// ParseDataType maps a name such as "f16" or "float32" to a DataType.
func ParseDataType(s string) (DataType, bool) {
	return tensor.ParseDataType(s)
}
