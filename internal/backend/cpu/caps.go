package cpu

import (
	"runtime"

	syscpu "golang.org/x/sys/cpu"
)

// Capabilities describes host features relevant to kernel selection.
type Capabilities struct {
	Arch    string
	AVX2    bool
	AVX512F bool
	FMA     bool
	ASIMD   bool
	ASIMDHP bool // ARM half-precision SIMD arithmetic.
	BLAS    bool // A vendor matmul is available.
}

// DetectCapabilities reads CPU features from golang.org/x/sys/cpu.
func DetectCapabilities() Capabilities {
	return Capabilities{
		Arch:    runtime.GOARCH,
		AVX2:    syscpu.X86.HasAVX2,
		AVX512F: syscpu.X86.HasAVX512F,
		FMA:     syscpu.X86.HasFMA,
		ASIMD:   syscpu.ARM64.HasASIMD,
		ASIMDHP: syscpu.ARM64.HasASIMDHP && syscpu.ARM64.HasFPHP,
	}
}

// HalfPrecision reports whether float16 data can take the accelerated
// paths. AVX2-class x86 parts ship F16C alongside FMA.
func (c Capabilities) HalfPrecision() bool {
	return (c.AVX2 && c.FMA) || c.ASIMDHP
}
