package kvcache

import (
	"github.com/born-ml/sdpa/internal/backend/cpu"
	"github.com/born-ml/sdpa/internal/quant"
	"github.com/born-ml/sdpa/internal/tensor"
)

// buffer is the physical storage of one cache state:
// rows [batch, heads, capacity, headSize], the beam table [batch, capacity]
// and, for Uint8, per-row quantization parameters [batch, heads, capacity].
type buffer struct {
	precision tensor.DataType
	batch     int
	heads     int
	capacity  int
	headSize  int

	data   tensor.View
	beams  []int32
	params []quant.Params
}

func newBuffer(precision tensor.DataType, batch, heads, capacity, headSize int) *buffer {
	b := &buffer{
		precision: precision,
		batch:     batch,
		heads:     heads,
		capacity:  capacity,
		headSize:  headSize,
		data:      tensor.Alloc(precision, tensor.Shape{batch, heads, capacity, headSize}),
		beams:     make([]int32, batch*capacity),
	}
	if precision == tensor.Uint8 {
		b.params = make([]quant.Params, batch*heads*capacity)
	}
	return b
}

// bytes returns the storage size of the row payload.
func (b *buffer) bytes() int {
	return b.batch * b.heads * b.capacity * b.headSize * b.precision.Size()
}

func (b *buffer) row(bi, h, pos int) int {
	return (bi*b.heads+h)*b.capacity + pos
}

func (b *buffer) beam(bi, pos int) int {
	return int(b.beams[bi*b.capacity+pos])
}

func (b *buffer) setIdentity(bi, from, to int) {
	r := b.beams[bi*b.capacity : (bi+1)*b.capacity]
	for p := from; p < to; p++ {
		r[p] = int32(bi)
	}
}

// write stores a full-precision row at physical (bi, h, pos).
func (b *buffer) write(bi, h, pos int, src []float32) {
	r := b.row(bi, h, pos)
	off := r * b.headSize
	switch b.precision {
	case tensor.Float32:
		copy(b.data.Float32s()[off:off+b.headSize], src)
	case tensor.Float16:
		cpu.Float32ToFloat16(b.data.Float16s()[off:off+b.headSize], src[:b.headSize])
	case tensor.Uint8:
		b.params[r] = quant.Quantize(src[:b.headSize], b.data.Uint8s()[off:off+b.headSize])
	}
}

// copyRow copies physical row (srcB, h, pos) of src into (dstB, h, pos).
// Both buffers share precision, heads and headSize.
func (b *buffer) copyRow(src *buffer, dstB, srcB, h, pos int) {
	d, s := b.row(dstB, h, pos), src.row(srcB, h, pos)
	do, so, n := d*b.headSize, s*src.headSize, b.headSize
	switch b.precision {
	case tensor.Float32:
		copy(b.data.Float32s()[do:do+n], src.data.Float32s()[so:so+n])
	case tensor.Float16:
		copy(b.data.Float16s()[do:do+n], src.data.Float16s()[so:so+n])
	case tensor.Uint8:
		copy(b.data.Uint8s()[do:do+n], src.data.Uint8s()[so:so+n])
		b.params[d] = src.params[s]
	}
}

// load dequantizes physical row (bi, h, pos) into dst.
func (b *buffer) load(bi, h, pos int, dst []float32) {
	r := b.row(bi, h, pos)
	off := r * b.headSize
	switch b.precision {
	case tensor.Float32:
		copy(dst[:b.headSize], b.data.Float32s()[off:off+b.headSize])
	case tensor.Float16:
		cpu.Float16ToFloat32(dst[:b.headSize], b.data.Float16s()[off:off+b.headSize])
	case tensor.Uint8:
		quant.Dequantize(dst[:b.headSize], b.data.Uint8s()[off:off+b.headSize], b.params[r])
	}
}

func (b *buffer) dot(bi, h, pos int, x []float32) float32 {
	r := b.row(bi, h, pos)
	off := r * b.headSize
	var sum float32
	switch b.precision {
	case tensor.Float32:
		row := b.data.Float32s()[off : off+b.headSize]
		for i, v := range x[:b.headSize] {
			sum += v * row[i]
		}
	case tensor.Float16:
		row := b.data.Float16s()[off : off+b.headSize]
		for i, v := range x[:b.headSize] {
			sum += v * row[i].Float32()
		}
	case tensor.Uint8:
		sum = quant.Dot(x[:b.headSize], b.data.Uint8s()[off:off+b.headSize], b.params[r])
	}
	return sum
}

func (b *buffer) accumulate(bi, h, pos int, w float32, acc []float32) {
	r := b.row(bi, h, pos)
	off := r * b.headSize
	switch b.precision {
	case tensor.Float32:
		row := b.data.Float32s()[off : off+b.headSize]
		for i := range acc[:b.headSize] {
			acc[i] += w * row[i]
		}
	case tensor.Float16:
		row := b.data.Float16s()[off : off+b.headSize]
		for i := range acc[:b.headSize] {
			acc[i] += w * row[i].Float32()
		}
	case tensor.Uint8:
		quant.Accumulate(acc[:b.headSize], w, b.data.Uint8s()[off:off+b.headSize], b.params[r])
	}
}
