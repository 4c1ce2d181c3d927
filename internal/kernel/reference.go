package kernel

import (
	"github.com/born-ml/sdpa/internal/parallel"
)

// referenceKernel computes one query row at a time with scalar loops. It
// reads every operand through its strides, so any layout and any element
// precision is accepted.
type referenceKernel struct {
	ex parallel.Executor
}

func newReference(ex parallel.Executor) *referenceKernel {
	return &referenceKernel{ex: ex}
}

func (k *referenceKernel) Kind() Kind { return Reference }

func (k *referenceKernel) Compute(req *Request) error {
	d := req.dims()
	return k.ex.Run(d.B*d.H, func(start, end int) error {
		q := make([]float32, d.S)
		scores := make([]float32, d.KV)
		acc := make([]float32, d.Sv)
		for u := start; u < end; u++ {
			b, h := u/d.H, u%d.H
			kvh := h / d.Group
			for m := 0; m < d.Q; m++ {
				req.Query.LoadRow(q, b, h, m)
				row := req.Mask.Row(b, h, m, d.Q, d.KV)
				for n := 0; n < row.ValidLen; n++ {
					scores[n] = req.Key.DotRow(q, b, kvh, n)
				}
				row.Weights(scores, req.Scale)

				clear(acc)
				for n := 0; n < row.ValidLen; n++ {
					if w := scores[n]; w != 0 {
						req.Value.AccumulateRow(acc, w, b, kvh, n)
					}
				}
				req.Output.StoreRow(acc, b, h, m)
			}
		}
		return nil
	})
}
