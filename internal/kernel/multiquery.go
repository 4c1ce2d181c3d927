package kernel

import (
	"sync"

	"gonum.org/v1/gonum/blas"

	"github.com/born-ml/sdpa/internal/backend/cpu"
	"github.com/born-ml/sdpa/internal/parallel"
)

// panels holds every (batch, kvHead) key and value matrix packed
// row-major, one after another.
type panels struct {
	k, v []float32
}

// multiQueryKernel packs each key/value head once, then runs the blocked
// two-matmul step for every query head that shares it.
type multiQueryKernel struct {
	sig    Signature
	gemm   cpu.Gemm
	ex     parallel.Executor
	pool   scratchPool
	panels sync.Pool
}

func newMultiQuery(sig Signature, gemm cpu.Gemm, ex parallel.Executor) *multiQueryKernel {
	return &multiQueryKernel{sig: sig, gemm: gemm, ex: ex}
}

func (k *multiQueryKernel) Kind() Kind { return MultiQuery }

func (k *multiQueryKernel) Compute(req *Request) error {
	d := req.dims()

	p, ok := k.panels.Get().(*panels)
	if !ok {
		p = &panels{}
	}
	defer k.panels.Put(p)

	kSize, vSize := d.KV*d.S, d.KV*d.Sv
	p.k = grow(p.k, d.B*d.Hk*kSize)
	p.v = grow(p.v, d.B*d.Hk*vSize)

	err := parallel.For2D(k.ex, d.B, d.Hk, func(b, kvh int) error {
		u := b*d.Hk + kvh
		kp := p.k[u*kSize : (u+1)*kSize]
		vp := p.v[u*vSize : (u+1)*vSize]
		for n := 0; n < d.KV; n++ {
			req.Key.LoadRow(kp[n*d.S:(n+1)*d.S], b, kvh, n)
			req.Value.LoadRow(vp[n*d.Sv:(n+1)*d.Sv], b, kvh, n)
		}
		return nil
	})
	if err != nil {
		return err
	}

	size, blocks := queryBlocks(d.Q, k.sig.M)
	return parallel.For3D(k.ex, d.B, d.H, blocks, func(b, h, blk int) error {
		sc := k.pool.get()
		defer k.pool.put(sc)

		m0 := blk * size
		rows := min(size, d.Q-m0)
		panel := b*d.Hk + h/d.Group

		kb := p.k[panel*kSize : (panel+1)*kSize]
		vb := p.v[panel*vSize : (panel+1)*vSize]
		attendBlock(k.gemm, req, d, sc, b, h, m0, rows, kb, max(d.S, 1), blas.Trans, vb, max(d.Sv, 1))
		return nil
	})
}
