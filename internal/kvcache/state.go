package kvcache

import (
	"fmt"

	"github.com/born-ml/sdpa/internal/tensor"
)

// State is the persisted history of one of keys or values.
//
// Logical row b at position p lives in physical row Beam(b, p). The beam
// table lets a beam-search reorder shuffle integers instead of copying
// rows; rows are copied only when storage grows or the batch changes.
type State struct {
	name      string
	precision tensor.DataType
	heads     int
	headSize  int
	length    int
	buf       *buffer

	reset bool
	seed  tensor.View
}

func newState(name string, precision tensor.DataType) *State {
	return &State{name: name, precision: precision}
}

// MarkReset signals a history discontinuity. On the next append the state
// is re-seeded from seed, a [batch, heads, length, headSize] view of the
// full external history. A zero View seeds an empty history.
func (s *State) MarkReset(seed tensor.View) {
	s.reset = true
	s.seed = seed
}

func (s *State) batch() int {
	if s.buf == nil {
		return 0
	}
	return s.buf.batch
}

func (s *State) capacity() int {
	if s.buf == nil {
		return 0
	}
	return s.buf.capacity
}

// Reader is the read accessor of a State. Every position is addressed
// logically; the beam table is resolved internally.
type Reader struct {
	s *State
}

// Len returns the number of cached positions.
func (r Reader) Len() int { return r.s.length }

// Batch returns the number of logical rows.
func (r Reader) Batch() int { return r.s.batch() }

// Heads returns the number of key/value heads.
func (r Reader) Heads() int { return r.s.heads }

// HeadSize returns the feature size per head.
func (r Reader) HeadSize() int { return r.s.headSize }

// Capacity returns the allocated positions per row.
func (r Reader) Capacity() int { return r.s.capacity() }

// Precision returns the storage precision.
func (r Reader) Precision() tensor.DataType { return r.s.precision }

// Beam returns the physical row holding logical row b at position pos.
//
// Beam, Row, Dot and Accumulate require pos < Len(); reading an empty
// history panics.
func (r Reader) Beam(b, pos int) int {
	return r.buffer().beam(b, pos)
}

// Row dequantizes logical (b, h, pos) into dst.
func (r Reader) Row(b, h, pos int, dst []float32) {
	buf := r.buffer()
	buf.load(buf.beam(b, pos), h, pos, dst)
}

// Dot returns the dot product of x with logical row (b, h, pos).
func (r Reader) Dot(b, h, pos int, x []float32) float32 {
	buf := r.buffer()
	return buf.dot(buf.beam(b, pos), h, pos, x)
}

// Accumulate adds w times logical row (b, h, pos) into acc.
func (r Reader) Accumulate(b, h, pos int, w float32, acc []float32) {
	buf := r.buffer()
	buf.accumulate(buf.beam(b, pos), h, pos, w, acc)
}

func (r Reader) buffer() *buffer {
	if r.s.buf == nil {
		panic(fmt.Sprintf("kvcache: read of empty %s history", r.s.name))
	}
	return r.s.buf
}

// Materialize gathers the logical history into a new row-major float32
// [batch, heads, length, headSize] view.
func (r Reader) Materialize() tensor.View {
	s := r.s
	out := tensor.Alloc(tensor.Float32, tensor.Shape{s.batch(), s.heads, s.length, s.headSize})
	data := out.Float32s()
	for b := 0; b < s.batch(); b++ {
		for h := 0; h < s.heads; h++ {
			for p := 0; p < s.length; p++ {
				off := out.RowOffset(b, h, p)
				r.Row(b, h, p, data[off:off+s.headSize])
			}
		}
	}
	return out
}
