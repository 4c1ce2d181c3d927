// Package mask resolves the attention masking policy for a query row and
// implements the softmax numeric convention shared by every kernel.
package mask

import (
	"fmt"
	"math"

	"github.com/born-ml/sdpa/internal/errdefs"
	"github.com/born-ml/sdpa/internal/tensor"
)

var negInf = float32(math.Inf(-1))

// Policy combines the masking inputs of one attention call.
//
// Every view is rank 4 [batch, head, query, key] where any of the first
// three axes may be 1 and broadcast. Absent views are zero Views.
type Policy struct {
	// Causal restricts query m to key positions <= kvLen - qLen + m.
	// Excluded positions are dropped from the softmax, not biased.
	Causal bool

	// Mask is an additive float bias, or a Uint8 boolean where nonzero
	// keeps a position and zero maps it to -Inf.
	Mask tensor.View

	// Alibi is an additive float bias.
	Alibi tensor.View

	// CausalMask is a Uint8 keep/drop tensor. ZeroMasked selects polarity:
	// when true a zero entry is masked, otherwise a nonzero entry is masked.
	CausalMask tensor.View
	ZeroMasked bool
}

// ToRank4 lifts [batch, key] and [batch, query, key] mask views to
// [batch, 1, 1, key] and [batch, 1, query, key].
func ToRank4(v tensor.View) (tensor.View, error) {
	if v.IsNil() {
		return v, nil
	}
	switch v.Rank() {
	case 2:
		return v.InsertAxis(1).InsertAxis(1), nil
	case 3:
		return v.InsertAxis(1), nil
	case 4:
		return v, nil
	default:
		return tensor.View{}, fmt.Errorf("%w: mask rank %d, want 2, 3 or 4", errdefs.ErrConfiguration, v.Rank())
	}
}

// Validate checks that every mask view broadcasts to [batch, heads, qLen, kvLen].
func (p *Policy) Validate(batch, heads, qLen, kvLen int) error {
	want := [4]int{batch, heads, qLen, kvLen}
	check := func(name string, v tensor.View, dts ...tensor.DataType) error {
		if v.IsNil() {
			return nil
		}
		if v.Rank() != 4 {
			return fmt.Errorf("%w: %s rank %d, want 4", errdefs.ErrConfiguration, name, v.Rank())
		}
		for i, w := range want {
			if d := v.Dim(i); d != w && d != 1 {
				return fmt.Errorf("%w: %s shape %v does not broadcast to %v",
					errdefs.ErrConfiguration, name, v.Shape(), want)
			}
		}
		for _, dt := range dts {
			if v.DType() == dt {
				return nil
			}
		}
		return fmt.Errorf("%w: %s has precision %s", errdefs.ErrConfiguration, name, v.DType())
	}
	if err := check("attention mask", p.Mask, tensor.Float32, tensor.Float16, tensor.Uint8); err != nil {
		return err
	}
	if err := check("alibi", p.Alibi, tensor.Float32, tensor.Float16); err != nil {
		return err
	}
	return check("causal mask", p.CausalMask, tensor.Uint8)
}

// Row is the resolved policy for one (batch, head, query) row.
type Row struct {
	// ValidLen is the number of leading key positions that take part in the
	// softmax. Positions at or beyond it receive zero weight.
	ValidLen int

	p       *Policy
	b, h, m int
}

// Row resolves the policy for query m of qLen against kvLen keys.
func (p *Policy) Row(b, h, m, qLen, kvLen int) Row {
	valid := kvLen
	if p.Causal {
		valid = min(max(kvLen-qLen+m+1, 0), kvLen)
	}
	return Row{ValidLen: valid, p: p, b: b, h: h, m: m}
}

// HasBias reports whether Apply changes scores.
func (r Row) HasBias() bool {
	return !r.p.Mask.IsNil() || !r.p.Alibi.IsNil() || !r.p.CausalMask.IsNil()
}

// Apply adds per-column bias to scores[:ValidLen].
func (r Row) Apply(scores []float32) {
	p := r.p
	if !p.Alibi.IsNil() {
		for n := 0; n < r.ValidLen; n++ {
			scores[n] += p.Alibi.BroadcastFloat32At(r.b, r.h, r.m, n)
		}
	}
	if !p.Mask.IsNil() {
		boolean := p.Mask.DType() == tensor.Uint8
		for n := 0; n < r.ValidLen; n++ {
			v := p.Mask.BroadcastFloat32At(r.b, r.h, r.m, n)
			switch {
			case !boolean:
				scores[n] += v
			case v == 0:
				scores[n] = negInf
			}
		}
	}
	if !p.CausalMask.IsNil() {
		for n := 0; n < r.ValidLen; n++ {
			zero := p.CausalMask.BroadcastFloat32At(r.b, r.h, r.m, n) == 0
			if zero == p.ZeroMasked {
				scores[n] = negInf
			}
		}
	}
}

// Weights turns raw dot products into attention weights in place:
// scale, add bias, then softmax over [0, ValidLen).
func (r Row) Weights(scores []float32, scale float32) {
	for n := 0; n < r.ValidLen; n++ {
		scores[n] *= scale
	}
	if r.HasBias() {
		r.Apply(scores)
	}
	Softmax(scores, r.ValidLen)
}
