// Package cpu implements the CPU backend: BLAS integration, hardware
// capability detection and precision conversion.
package cpu

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// CPUBackend provides the vendor matrix multiply and host capabilities to
// the attention kernels.
type CPUBackend struct {
	caps Capabilities
	impl blas.Float32
}

// Option configures a CPUBackend.
type Option func(*CPUBackend)

// WithoutBLAS makes Sgemm use the naive in-package implementation and
// reports BLAS as unavailable to kernel selection.
func WithoutBLAS() Option {
	return func(c *CPUBackend) {
		c.impl = nil
		c.caps.BLAS = false
	}
}

// WithCapabilities overrides detected hardware capabilities.
func WithCapabilities(caps Capabilities) Option {
	return func(c *CPUBackend) {
		caps.BLAS = c.impl != nil && caps.BLAS
		c.caps = caps
	}
}

// New creates a new CPU backend backed by gonum's blas32 implementation.
func New(opts ...Option) *CPUBackend {
	c := &CPUBackend{
		caps: DetectCapabilities(),
		impl: blas32.Implementation(),
	}
	c.caps.BLAS = true
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the backend name.
func (c *CPUBackend) Name() string {
	return "CPU"
}

// Capabilities returns what the host supports.
func (c *CPUBackend) Capabilities() Capabilities {
	return c.caps
}

// Sgemm computes C = alpha * op(A) * op(B) + beta * C.
func (c *CPUBackend) Sgemm(tA, tB blas.Transpose, m, n, k int, alpha float32,
	a []float32, lda int, b []float32, ldb int, beta float32, cm []float32, ldc int,
) {
	if c.impl == nil {
		NaiveSgemm(tA, tB, m, n, k, alpha, a, lda, b, ldb, beta, cm, ldc)
		return
	}
	c.impl.Sgemm(tA, tB, m, n, k, alpha, a, lda, b, ldb, beta, cm, ldc)
}

// Compile-time check that CPUBackend implements Gemm.
var _ Gemm = (*CPUBackend)(nil)
