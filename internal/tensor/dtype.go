// Package tensor provides strided tensor views over externally owned storage.
package tensor

// DataType represents runtime element precision of a view.
type DataType int

// Supported element precisions.
const (
	Float32 DataType = iota
	Float16
	Uint8
	Int32
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float16:
		return 2
	case Uint8:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Uint8:
		return "uint8"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// IsFloat reports whether the data type holds floating-point values.
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float16
}

// ParseDataType maps short precision names ("f32", "f16", "u8", "i32") and
// the long names returned by String back to a DataType.
func ParseDataType(s string) (DataType, bool) {
	switch s {
	case "f32", "float32":
		return Float32, true
	case "f16", "float16", "half":
		return Float16, true
	case "u8", "uint8":
		return Uint8, true
	case "i32", "int32":
		return Int32, true
	default:
		return Float32, false
	}
}
