package tensor

import (
	"fmt"

	"github.com/x448/float16"
)

// storage holds exactly one typed slice. It is shared by every view derived
// from the same constructor call and is never copied by view operations.
type storage struct {
	f32 []float32
	f16 []float16.Float16
	u8  []uint8
	i32 []int32
}

func (s *storage) len(dt DataType) int {
	switch dt {
	case Float32:
		return len(s.f32)
	case Float16:
		return len(s.f16)
	case Uint8:
		return len(s.u8)
	case Int32:
		return len(s.i32)
	default:
		return 0
	}
}

// View is a strided multi-dimensional window over storage it does not own.
//
// A View is a small value: element precision, shape, strides (in elements),
// base offset and the axis permutation applied since construction. Slicing,
// permuting and reshaping return new views over the same storage, so the
// lifetime of every view is bound to the buffer passed to the constructor.
//
// The zero View is "absent" and is used for optional inputs such as masks.
//
// Example:
//
//	data := make([]float32, 2*4*8*16)
//	q, _ := tensor.FromFloat32(data, tensor.Shape{2, 4, 8, 16}) // [B, H, L, S]
//	bshs := q.Permute(0, 2, 1, 3)                              // [B, L, H, S], same storage
//	last := q.Slice(2, 7, 8)                                   // final position only
type View struct {
	buf    *storage
	dtype  DataType
	shape  Shape
	stride []int
	offset int
	perm   []int
}

func newView(buf *storage, dt DataType, shape Shape) (View, error) {
	if err := shape.Validate(); err != nil {
		return View{}, err
	}
	if need, have := shape.NumElements(), buf.len(dt); have < need {
		return View{}, fmt.Errorf("tensor: %s buffer of %d elements is too small for shape %v (%d elements)",
			dt, have, shape, need)
	}
	perm := make([]int, len(shape))
	for i := range perm {
		perm[i] = i
	}
	return View{
		buf:    buf,
		dtype:  dt,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		perm:   perm,
	}, nil
}

// FromFloat32 wraps data as a row-major float32 view without copying.
func FromFloat32(data []float32, shape Shape) (View, error) {
	return newView(&storage{f32: data}, Float32, shape)
}

// FromFloat16 wraps data as a row-major float16 view without copying.
func FromFloat16(data []float16.Float16, shape Shape) (View, error) {
	return newView(&storage{f16: data}, Float16, shape)
}

// FromUint8 wraps data as a row-major uint8 view without copying.
func FromUint8(data []uint8, shape Shape) (View, error) {
	return newView(&storage{u8: data}, Uint8, shape)
}

// FromInt32 wraps data as a row-major int32 view without copying.
func FromInt32(data []int32, shape Shape) (View, error) {
	return newView(&storage{i32: data}, Int32, shape)
}

// Alloc allocates zeroed row-major storage and returns a view over it.
// The caller that allocates is the owner of the storage.
func Alloc(dt DataType, shape Shape) View {
	n := shape.NumElements()
	buf := &storage{}
	switch dt {
	case Float32:
		buf.f32 = make([]float32, n)
	case Float16:
		buf.f16 = make([]float16.Float16, n)
	case Uint8:
		buf.u8 = make([]uint8, n)
	case Int32:
		buf.i32 = make([]int32, n)
	default:
		panic(fmt.Sprintf("tensor: cannot allocate %s", dt))
	}
	v, err := newView(buf, dt, shape)
	if err != nil {
		panic(fmt.Sprintf("tensor: alloc %v: %v", shape, err))
	}
	return v
}

// Must panics if err is non-nil and returns v otherwise.
func Must(v View, err error) View {
	if err != nil {
		panic(err)
	}
	return v
}

// IsNil reports whether the view is absent.
func (v View) IsNil() bool { return v.buf == nil }

// DType returns the element precision.
func (v View) DType() DataType { return v.dtype }

// Rank returns the number of dimensions.
func (v View) Rank() int { return len(v.shape) }

// Shape returns a copy of the dimensions.
func (v View) Shape() Shape { return v.shape.Clone() }

// Dim returns the size of axis i.
func (v View) Dim(i int) int { return v.shape[i] }

// Strides returns a copy of the element strides.
func (v View) Strides() []int {
	s := make([]int, len(v.stride))
	copy(s, v.stride)
	return s
}

// Stride returns the element stride of axis i.
func (v View) Stride(i int) int { return v.stride[i] }

// Offset returns the base offset in elements.
func (v View) Offset() int { return v.offset }

// Perm returns the axis permutation relative to the constructed layout.
func (v View) Perm() []int {
	p := make([]int, len(v.perm))
	copy(p, v.perm)
	return p
}

// NumElements returns the number of logical elements.
func (v View) NumElements() int { return v.shape.NumElements() }

// Float32s returns the full backing float32 slice. Index it with Index.
func (v View) Float32s() []float32 {
	v.mustBe(Float32)
	return v.buf.f32
}

// Float16s returns the full backing float16 slice.
func (v View) Float16s() []float16.Float16 {
	v.mustBe(Float16)
	return v.buf.f16
}

// Uint8s returns the full backing uint8 slice.
func (v View) Uint8s() []uint8 {
	v.mustBe(Uint8)
	return v.buf.u8
}

// Int32s returns the full backing int32 slice.
func (v View) Int32s() []int32 {
	v.mustBe(Int32)
	return v.buf.i32
}

func (v View) mustBe(dt DataType) {
	if v.dtype != dt {
		panic(fmt.Sprintf("tensor: view is %s, not %s", v.dtype, dt))
	}
}

// Index returns the storage offset of the element at idx.
func (v View) Index(idx ...int) int {
	if len(idx) != len(v.shape) {
		panic(fmt.Sprintf("tensor: index rank %d does not match view rank %d", len(idx), len(v.shape)))
	}
	off := v.offset
	for i, x := range idx {
		if x < 0 || x >= v.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for axis %d of size %d", x, i, v.shape[i]))
		}
		off += x * v.stride[i]
	}
	return off
}

// BroadcastIndex is Index where axes of size 1 accept any index.
func (v View) BroadcastIndex(idx ...int) int {
	if len(idx) != len(v.shape) {
		panic(fmt.Sprintf("tensor: index rank %d does not match view rank %d", len(idx), len(v.shape)))
	}
	off := v.offset
	for i, x := range idx {
		if v.shape[i] == 1 {
			continue
		}
		if x < 0 || x >= v.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for axis %d of size %d", x, i, v.shape[i]))
		}
		off += x * v.stride[i]
	}
	return off
}

// load converts the element at storage offset off to float32.
func (v View) load(off int) float32 {
	switch v.dtype {
	case Float32:
		return v.buf.f32[off]
	case Float16:
		return v.buf.f16[off].Float32()
	case Uint8:
		return float32(v.buf.u8[off])
	case Int32:
		return float32(v.buf.i32[off])
	default:
		panic("unknown data type")
	}
}

func (v View) store(off int, x float32) {
	switch v.dtype {
	case Float32:
		v.buf.f32[off] = x
	case Float16:
		v.buf.f16[off] = float16.Fromfloat32(x)
	case Uint8:
		v.buf.u8[off] = uint8(x)
	case Int32:
		v.buf.i32[off] = int32(x)
	default:
		panic("unknown data type")
	}
}

// Float32At returns the element at idx converted to float32.
func (v View) Float32At(idx ...int) float32 {
	return v.load(v.Index(idx...))
}

// BroadcastFloat32At is Float32At with size-1 axes broadcast.
func (v View) BroadcastFloat32At(idx ...int) float32 {
	return v.load(v.BroadcastIndex(idx...))
}

// SetFloat32 stores x at idx, converting to the view precision.
func (v View) SetFloat32(x float32, idx ...int) {
	v.store(v.Index(idx...), x)
}

// LoadRow copies the innermost axis at the leading index prefix into dst,
// converting to float32. prefix must have Rank()-1 entries.
func (v View) LoadRow(dst []float32, prefix ...int) {
	n := v.shape[len(v.shape)-1]
	base := v.rowBase(prefix)
	step := v.stride[len(v.stride)-1]
	if v.dtype == Float32 && step == 1 {
		copy(dst[:n], v.buf.f32[base:base+n])
		return
	}
	for i := 0; i < n; i++ {
		dst[i] = v.load(base + i*step)
	}
}

// StoreRow writes src into the innermost axis at the leading index prefix.
func (v View) StoreRow(src []float32, prefix ...int) {
	n := v.shape[len(v.shape)-1]
	base := v.rowBase(prefix)
	step := v.stride[len(v.stride)-1]
	if v.dtype == Float32 && step == 1 {
		copy(v.buf.f32[base:base+n], src[:n])
		return
	}
	for i := 0; i < n; i++ {
		v.store(base+i*step, src[i])
	}
}

// DotRow returns the dot product of x with the innermost axis at prefix.
func (v View) DotRow(x []float32, prefix ...int) float32 {
	n := v.shape[len(v.shape)-1]
	base := v.rowBase(prefix)
	step := v.stride[len(v.stride)-1]
	var sum float32
	if v.dtype == Float32 && step == 1 {
		row := v.buf.f32[base : base+n]
		for i, xi := range x[:n] {
			sum += xi * row[i]
		}
		return sum
	}
	for i, xi := range x[:n] {
		sum += xi * v.load(base+i*step)
	}
	return sum
}

// AccumulateRow adds w times the innermost axis at prefix into acc.
func (v View) AccumulateRow(acc []float32, w float32, prefix ...int) {
	n := v.shape[len(v.shape)-1]
	base := v.rowBase(prefix)
	step := v.stride[len(v.stride)-1]
	if v.dtype == Float32 && step == 1 {
		row := v.buf.f32[base : base+n]
		for i := range acc[:n] {
			acc[i] += w * row[i]
		}
		return
	}
	for i := range acc[:n] {
		acc[i] += w * v.load(base+i*step)
	}
}

// RowOffset returns the storage offset of the first element of the
// innermost axis at the leading index prefix.
func (v View) RowOffset(prefix ...int) int {
	return v.rowBase(prefix)
}

func (v View) rowBase(prefix []int) int {
	if len(prefix) != len(v.shape)-1 {
		panic(fmt.Sprintf("tensor: row prefix rank %d does not match view rank %d", len(prefix), len(v.shape)))
	}
	off := v.offset
	for i, x := range prefix {
		if x < 0 || x >= v.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for axis %d of size %d", x, i, v.shape[i]))
		}
		off += x * v.stride[i]
	}
	return off
}

// Slice restricts axis to the half-open range [start, end).
func (v View) Slice(axis, start, end int) View {
	if axis < 0 || axis >= len(v.shape) {
		panic(fmt.Sprintf("tensor: slice axis %d out of range for rank %d", axis, len(v.shape)))
	}
	if start < 0 || end < start || end > v.shape[axis] {
		panic(fmt.Sprintf("tensor: slice [%d, %d) out of range for axis %d of size %d",
			start, end, axis, v.shape[axis]))
	}
	out := v.clone()
	out.offset += start * v.stride[axis]
	out.shape[axis] = end - start
	return out
}

// Select fixes axis at index i and removes it.
func (v View) Select(axis, i int) View {
	s := v.Slice(axis, i, i+1)
	s.shape = append(s.shape[:axis], s.shape[axis+1:]...)
	s.stride = append(s.stride[:axis], s.stride[axis+1:]...)
	s.perm = append(s.perm[:axis], s.perm[axis+1:]...)
	return s
}

// Permute reorders axes: axis i of the result is axis order[i] of v.
func (v View) Permute(order ...int) View {
	if len(order) != len(v.shape) {
		panic(fmt.Sprintf("tensor: permute order %v does not match rank %d", order, len(v.shape)))
	}
	seen := make([]bool, len(order))
	out := View{buf: v.buf, dtype: v.dtype, offset: v.offset,
		shape: make(Shape, len(order)), stride: make([]int, len(order)), perm: make([]int, len(order))}
	for i, a := range order {
		if a < 0 || a >= len(order) || seen[a] {
			panic(fmt.Sprintf("tensor: invalid permutation %v", order))
		}
		seen[a] = true
		out.shape[i] = v.shape[a]
		out.stride[i] = v.stride[a]
		out.perm[i] = v.perm[a]
	}
	return out
}

// InsertAxis inserts a size-1 axis at position axis.
func (v View) InsertAxis(axis int) View {
	if axis < 0 || axis > len(v.shape) {
		panic(fmt.Sprintf("tensor: insert axis %d out of range for rank %d", axis, len(v.shape)))
	}
	out := View{buf: v.buf, dtype: v.dtype, offset: v.offset}
	out.shape = append(append(append(Shape{}, v.shape[:axis]...), 1), v.shape[axis:]...)
	out.stride = append(append(append([]int{}, v.stride[:axis]...), 0), v.stride[axis:]...)
	out.perm = append(append(append([]int{}, v.perm[:axis]...), -1), v.perm[axis:]...)
	return out
}

// IsContiguous reports whether the view is dense row-major.
func (v View) IsContiguous() bool {
	want := 1
	for i := len(v.shape) - 1; i >= 0; i-- {
		if v.shape[i] == 1 {
			continue
		}
		if v.stride[i] != want {
			return false
		}
		want *= v.shape[i]
	}
	return true
}

// Reshape returns a view with a new shape over contiguous storage.
func (v View) Reshape(shape Shape) (View, error) {
	if !v.IsContiguous() {
		return View{}, fmt.Errorf("tensor: cannot reshape non-contiguous view %v", v.shape)
	}
	if shape.NumElements() != v.shape.NumElements() {
		return View{}, fmt.Errorf("tensor: cannot reshape %v to %v", v.shape, shape)
	}
	if err := shape.Validate(); err != nil {
		return View{}, err
	}
	out := View{buf: v.buf, dtype: v.dtype, offset: v.offset,
		shape: shape.Clone(), stride: shape.ComputeStrides(), perm: make([]int, len(shape))}
	for i := range out.perm {
		out.perm[i] = i
	}
	return out, nil
}

// ToFloat32 copies the logical contents into a new row-major float32 slice.
func (v View) ToFloat32() []float32 {
	out := make([]float32, v.NumElements())
	if len(out) == 0 {
		return out
	}
	idx := make([]int, len(v.shape))
	for i := range out {
		out[i] = v.load(v.Index(idx...))
		for a := len(idx) - 1; a >= 0; a-- {
			idx[a]++
			if idx[a] < v.shape[a] {
				break
			}
			idx[a] = 0
		}
	}
	return out
}

func (v View) clone() View {
	out := v
	out.shape = v.shape.Clone()
	out.stride = append([]int(nil), v.stride...)
	out.perm = append([]int(nil), v.perm...)
	return out
}

// String returns a short description of the view.
func (v View) String() string {
	if v.IsNil() {
		return "View(nil)"
	}
	return fmt.Sprintf("View(%s, shape=%v, strides=%v, offset=%d)", v.dtype, v.shape, v.stride, v.offset)
}
