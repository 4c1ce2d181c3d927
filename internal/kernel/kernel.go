// Package kernel implements the scaled dot-product attention kernels and
// the machinery that selects, builds and caches them.
//
// Every kernel computes, for each (batch, head, query) row,
//
//	out[m] = softmax(scale * q[m]·K[n] + bias[m, n]) · V[n]
//
// over the key positions admitted by the mask policy. Query head h reads
// key/value head h / (heads / kvHeads), so grouped-query attention needs
// no replication of the key/value tensors.
package kernel

import (
	"fmt"

	"github.com/born-ml/sdpa/internal/errdefs"
	"github.com/born-ml/sdpa/internal/mask"
	"github.com/born-ml/sdpa/internal/tensor"
)

// Kind identifies a kernel variant.
type Kind int

const (
	// Reference is the portable scalar kernel. It handles every layout,
	// precision and mask combination.
	Reference Kind = iota

	// MatMul computes scores and context with two matrix multiplies per
	// block of query rows.
	MatMul

	// MultiQuery packs each key/value head once and shares the packed
	// panels between the query heads of its group.
	MultiQuery

	// SingleToken reads the key/value history in place through the beam
	// table. Used for decode steps and fused cache reads.
	SingleToken
)

// String returns the kernel name.
func (k Kind) String() string {
	switch k {
	case Reference:
		return "reference"
	case MatMul:
		return "matmul"
	case MultiQuery:
		return "multi_query"
	case SingleToken:
		return "single_token"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Kernel is a compiled attention routine. A Kernel is safe for concurrent
// use; any scratch it needs is per invocation.
type Kernel interface {
	Kind() Kind
	Compute(req *Request) error
}

// History is logical read access to a [batch, heads, length, headSize]
// key or value sequence.
type History interface {
	Len() int
	Heads() int
	HeadSize() int
	Dot(b, h, pos int, x []float32) float32
	Accumulate(b, h, pos int, w float32, acc []float32)
}

// Request holds the operands of one attention call.
type Request struct {
	// Query is [batch, heads, qLen, headSize].
	Query tensor.View

	// Key and Value are [batch, kvHeads, kvLen, headSize] views. The
	// matrix kernels and the reference kernel read them.
	Key   tensor.View
	Value tensor.View

	// KeyHistory and ValueHistory replace Key and Value for the
	// single-token kernel. When nil, Key and Value are wrapped.
	KeyHistory   History
	ValueHistory History

	Mask *mask.Policy

	// Output is [batch, heads, qLen, valueHeadSize] in canonical axis
	// order. A transposed destination is a permuted view.
	Output tensor.View

	Scale float32
}

type dims struct {
	B, H, Hk, Group int
	Q, KV           int
	S, Sv           int
}

func (r *Request) dims() dims {
	d := dims{
		B: r.Query.Dim(0),
		H: r.Query.Dim(1),
		Q: r.Query.Dim(2),
		S: r.Query.Dim(3),
	}
	if r.KeyHistory != nil {
		d.Hk = r.KeyHistory.Heads()
		d.KV = r.KeyHistory.Len()
		d.Sv = r.ValueHistory.HeadSize()
	} else {
		d.Hk = r.Key.Dim(1)
		d.KV = r.Key.Dim(2)
		d.Sv = r.Value.Dim(3)
	}
	d.Group = 1
	if d.Hk > 0 {
		d.Group = d.H / d.Hk
	}
	return d
}

// Validate checks operand ranks and shape agreement.
func (r *Request) Validate() error {
	for _, op := range []struct {
		name string
		v    tensor.View
	}{{"query", r.Query}, {"output", r.Output}} {
		if op.v.Rank() != 4 {
			return fmt.Errorf("%w: %s rank %d, want 4", errdefs.ErrConfiguration, op.name, op.v.Rank())
		}
	}
	if r.KeyHistory == nil {
		if r.Key.Rank() != 4 || r.Value.Rank() != 4 {
			return fmt.Errorf("%w: key and value must be rank 4", errdefs.ErrConfiguration)
		}
		if r.Key.Dim(0) != r.Value.Dim(0) || r.Key.Dim(1) != r.Value.Dim(1) || r.Key.Dim(2) != r.Value.Dim(2) {
			return fmt.Errorf("%w: key %v and value %v disagree", errdefs.ErrConfiguration,
				r.Key.Shape(), r.Value.Shape())
		}
		if r.Key.Dim(0) != r.Query.Dim(0) {
			return fmt.Errorf("%w: key batch %d, query batch %d", errdefs.ErrConfiguration,
				r.Key.Dim(0), r.Query.Dim(0))
		}
		if r.Key.Dim(3) != r.Query.Dim(3) {
			return fmt.Errorf("%w: key head size %d, query head size %d", errdefs.ErrConfiguration,
				r.Key.Dim(3), r.Query.Dim(3))
		}
	} else {
		if r.ValueHistory == nil {
			return fmt.Errorf("%w: key history without value history", errdefs.ErrConfiguration)
		}
		if r.KeyHistory.HeadSize() != r.Query.Dim(3) {
			return fmt.Errorf("%w: key head size %d, query head size %d", errdefs.ErrConfiguration,
				r.KeyHistory.HeadSize(), r.Query.Dim(3))
		}
		if r.KeyHistory.Len() != r.ValueHistory.Len() || r.KeyHistory.Heads() != r.ValueHistory.Heads() {
			return fmt.Errorf("%w: key and value histories disagree", errdefs.ErrConfiguration)
		}
	}
	d := r.dims()
	if d.Hk == 0 || d.H%d.Hk != 0 {
		return fmt.Errorf("%w: %d query heads are not a multiple of %d key/value heads",
			errdefs.ErrConfiguration, d.H, d.Hk)
	}
	want := tensor.Shape{d.B, d.H, d.Q, d.Sv}
	if !r.Output.Shape().Equal(want) {
		return fmt.Errorf("%w: output shape %v, want %v", errdefs.ErrConfiguration, r.Output.Shape(), want)
	}
	if r.Mask != nil {
		return r.Mask.Validate(d.B, d.H, d.Q, d.KV)
	}
	return nil
}

// ViewHistory adapts a rank 4 key or value view to History.
type ViewHistory struct {
	V tensor.View
}

// Len returns the sequence length.
func (h ViewHistory) Len() int { return h.V.Dim(2) }

// Heads returns the number of heads.
func (h ViewHistory) Heads() int { return h.V.Dim(1) }

// HeadSize returns the feature size.
func (h ViewHistory) HeadSize() int { return h.V.Dim(3) }

// Dot returns x · V[b, head, pos].
func (h ViewHistory) Dot(b, head, pos int, x []float32) float32 {
	return h.V.DotRow(x, b, head, pos)
}

// Accumulate adds w * V[b, head, pos] into acc.
func (h ViewHistory) Accumulate(b, head, pos int, w float32, acc []float32) {
	h.V.AccumulateRow(acc, w, b, head, pos)
}
