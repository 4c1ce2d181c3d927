package cpu

import (
	"gonum.org/v1/gonum/blas"
)

// Gemm is the single-precision general matrix multiply used by the kernels.
// Leading dimensions follow BLAS row-major conventions.
type Gemm interface {
	Sgemm(tA, tB blas.Transpose, m, n, k int, alpha float32,
		a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int)
}

// GemmFunc adapts a function to Gemm.
type GemmFunc func(tA, tB blas.Transpose, m, n, k int, alpha float32,
	a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int)

// Sgemm implements Gemm.
func (f GemmFunc) Sgemm(tA, tB blas.Transpose, m, n, k int, alpha float32,
	a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int,
) {
	f(tA, tB, m, n, k, alpha, a, lda, b, ldb, beta, c, ldc)
}

// NaiveSgemm is the O(m*n*k) reference matrix multiply.
// C[i,j] = alpha * sum_k op(A)[i,k] * op(B)[k,j] + beta * C[i,j]
func NaiveSgemm(tA, tB blas.Transpose, m, n, k int, alpha float32,
	a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int,
) {
	at := func(i, p int) float32 {
		if tA == blas.NoTrans {
			return a[i*lda+p]
		}
		return a[p*lda+i]
	}
	bt := func(p, j int) float32 {
		if tB == blas.NoTrans {
			return b[p*ldb+j]
		}
		return b[j*ldb+p]
	}

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := float32(0)
			for p := 0; p < k; p++ {
				sum += at(i, p) * bt(p, j)
			}
			if beta == 0 {
				c[i*ldc+j] = alpha * sum
			} else {
				c[i*ldc+j] = alpha*sum + beta*c[i*ldc+j]
			}
		}
	}
}
