package kernel

import (
	"fmt"

	"github.com/born-ml/sdpa/internal/backend/cpu"
	"github.com/born-ml/sdpa/internal/errdefs"
	"github.com/born-ml/sdpa/internal/tensor"
)

// Selection is everything kernel choice depends on.
type Selection struct {
	QueryLen      int // L1, new positions in this call
	CacheLen      int // L0, positions already cached before this call
	Grouped       bool
	Precision     tensor.DataType
	FuseWithCache bool
	Caps          cpu.Capabilities
}

// CheckPrecision returns ErrPrecisionUnsupported when no kernel accepts
// query inputs of precision dt.
func CheckPrecision(dt tensor.DataType) error {
	switch dt {
	case tensor.Float32, tensor.Float16:
		return nil
	default:
		return fmt.Errorf("%w: no kernel accepts %s inputs", errdefs.ErrPrecisionUnsupported, dt)
	}
}

// Select picks the kernel for s. It has no side effects.
func Select(s Selection) (Kind, error) {
	if err := CheckPrecision(s.Precision); err != nil {
		return Reference, err
	}

	if s.QueryLen == 1 || (s.FuseWithCache && s.CacheLen > 0) {
		return SingleToken, nil
	}
	if s.Precision == tensor.Float16 && !s.Caps.HalfPrecision() {
		return Reference, nil
	}
	if s.Grouped {
		return MultiQuery, nil
	}
	if s.Caps.BLAS {
		return MatMul, nil
	}
	return Reference, nil
}

// isPrecisionFallback reports whether s lands on Reference only because
// its precision has no accelerated path on this host.
func isPrecisionFallback(s Selection, k Kind) bool {
	return k == Reference && s.Precision == tensor.Float16 && !s.Caps.HalfPrecision() &&
		(s.Grouped || s.Caps.BLAS)
}
