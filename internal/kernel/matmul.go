package kernel

import (
	"github.com/born-ml/sdpa/internal/backend/cpu"
	"github.com/born-ml/sdpa/internal/parallel"
)

// matmulKernel computes a block of query rows with two matrix multiplies:
// scores = Q·Kᵀ, then softmax, then out = scores·V.
type matmulKernel struct {
	sig  Signature
	gemm cpu.Gemm
	ex   parallel.Executor
	pool scratchPool
}

func newMatMul(sig Signature, gemm cpu.Gemm, ex parallel.Executor) *matmulKernel {
	return &matmulKernel{sig: sig, gemm: gemm, ex: ex}
}

func (k *matmulKernel) Kind() Kind { return MatMul }

func (k *matmulKernel) Compute(req *Request) error {
	d := req.dims()
	size, blocks := queryBlocks(d.Q, k.sig.M)

	return parallel.For3D(k.ex, d.B, d.H, blocks, func(b, h, blk int) error {
		sc := k.pool.get()
		defer k.pool.put(sc)

		m0 := blk * size
		rows := min(size, d.Q-m0)
		kvh := h / d.Group

		kb, ldk, tk := keyMatrix(req.Key, b, kvh, &sc.k)
		vb, ldv := matrix(req.Value, b, kvh, 0, d.KV, &sc.v)
		attendBlock(k.gemm, req, d, sc, b, h, m0, rows, kb, ldk, tk, vb, ldv)
		return nil
	})
}
