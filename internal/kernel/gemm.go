package kernel

import (
	"sync"

	"gonum.org/v1/gonum/blas"

	"github.com/born-ml/sdpa/internal/backend/cpu"
	"github.com/born-ml/sdpa/internal/tensor"
)

// scratch is the per-range working memory of the matrix kernels.
type scratch struct {
	q, k, v, scores, out []float32
}

// scratchPool recycles scratch between invocations of one plan.
type scratchPool struct {
	p sync.Pool
}

func (p *scratchPool) get() *scratch {
	if s, ok := p.p.Get().(*scratch); ok {
		return s
	}
	return &scratch{}
}

func (p *scratchPool) put(s *scratch) { p.p.Put(s) }

func grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}

// matrix addresses rows consecutive positions of a rank 4 view, starting at
// (b, h, m0), as a row-major float32 matrix. Float32 views with a unit
// feature stride are used in place; anything else is packed into buf.
func matrix(v tensor.View, b, h, m0, rows int, buf *[]float32) ([]float32, int) {
	cols := v.Dim(3)
	if v.DType() == tensor.Float32 && v.Stride(3) == 1 && (rows == 1 || v.Stride(2) >= cols) {
		return v.Float32s()[v.RowOffset(b, h, m0):], max(v.Stride(2), cols, 1)
	}
	*buf = grow(*buf, rows*cols)
	for i := 0; i < rows; i++ {
		v.LoadRow((*buf)[i*cols:(i+1)*cols], b, h, m0+i)
	}
	return *buf, max(cols, 1)
}

// keyMatrix returns the keys of (b, h) as the B operand of Q·Kᵀ. A
// feature-major float32 key is already Kᵀ and is used without transposing.
func keyMatrix(k tensor.View, b, h int, buf *[]float32) ([]float32, int, blas.Transpose) {
	kvLen, size := k.Dim(2), k.Dim(3)
	if k.DType() == tensor.Float32 && k.Stride(3) != 1 && k.Stride(2) == 1 && (size == 1 || k.Stride(3) >= kvLen) {
		return k.Float32s()[k.RowOffset(b, h, 0):], max(k.Stride(3), kvLen), blas.NoTrans
	}
	a, ld := matrix(k, b, h, 0, kvLen, buf)
	return a, ld, blas.Trans
}

// attendBlock computes rows query rows of head (b, h) starting at m0
// against the key operand kb and the row-major value matrix vb.
func attendBlock(g cpu.Gemm, req *Request, d dims, sc *scratch, b, h, m0, rows int,
	kb []float32, ldk int, tk blas.Transpose, vb []float32, ldv int,
) {
	qa, lda := matrix(req.Query, b, h, m0, rows, &sc.q)

	sc.scores = grow(sc.scores, rows*d.KV)
	g.Sgemm(blas.NoTrans, tk, rows, d.KV, d.S, 1, qa, lda, kb, ldk, 0, sc.scores, d.KV)
	for i := 0; i < rows; i++ {
		row := req.Mask.Row(b, h, m0+i, d.Q, d.KV)
		row.Weights(sc.scores[i*d.KV:(i+1)*d.KV], req.Scale)
	}

	out := req.Output
	if out.DType() == tensor.Float32 && out.Stride(3) == 1 && (rows == 1 || out.Stride(2) >= d.Sv) {
		c := out.Float32s()[out.RowOffset(b, h, m0):]
		g.Sgemm(blas.NoTrans, blas.NoTrans, rows, d.Sv, d.KV, 1, sc.scores, d.KV, vb, ldv, 0, c, max(out.Stride(2), d.Sv, 1))
		return
	}
	sc.out = grow(sc.out, rows*d.Sv)
	g.Sgemm(blas.NoTrans, blas.NoTrans, rows, d.Sv, d.KV, 1, sc.scores, d.KV, vb, ldv, 0, sc.out, max(d.Sv, 1))
	for i := 0; i < rows; i++ {
		out.StoreRow(sc.out[i*d.Sv:(i+1)*d.Sv], b, h, m0+i)
	}
}

// queryBlocks splits qLen rows into blocks of at most m.
func queryBlocks(qLen, m int) (size, count int) {
	size = max(m, 1)
	return size, (qLen + size - 1) / size
}
