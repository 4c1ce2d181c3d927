package kernel

import (
	"github.com/born-ml/sdpa/internal/parallel"
)

// singleTokenKernel attends over a History without materializing it. With
// a cache-backed history each key row is read from its physical beam row
// and dequantized on the fly, so a beam reorder costs nothing here.
type singleTokenKernel struct {
	ex parallel.Executor
}

func newSingleToken(ex parallel.Executor) *singleTokenKernel {
	return &singleTokenKernel{ex: ex}
}

func (k *singleTokenKernel) Kind() Kind { return SingleToken }

func (k *singleTokenKernel) Compute(req *Request) error {
	keys, values := req.KeyHistory, req.ValueHistory
	if keys == nil {
		keys, values = ViewHistory{V: req.Key}, ViewHistory{V: req.Value}
	}
	d := req.dims()
	kvLen := keys.Len()

	return k.ex.Run(d.B*d.H, func(start, end int) error {
		q := make([]float32, d.S)
		scores := make([]float32, kvLen)
		acc := make([]float32, d.Sv)
		for u := start; u < end; u++ {
			b, h := u/d.H, u%d.H
			kvh := h / d.Group
			for m := 0; m < d.Q; m++ {
				req.Query.LoadRow(q, b, h, m)
				row := req.Mask.Row(b, h, m, d.Q, kvLen)
				for n := 0; n < row.ValidLen; n++ {
					scores[n] = keys.Dot(b, kvh, n, q)
				}
				row.Weights(scores, req.Scale)

				clear(acc)
				for n := 0; n < row.ValidLen; n++ {
					if w := scores[n]; w != 0 {
						values.Accumulate(b, kvh, n, w, acc)
					}
				}
				req.Output.StoreRow(acc, b, h, m)
			}
		}
		return nil
	})
}
