package kernel

import (
	"fmt"

	"github.com/born-ml/sdpa/internal/tensor"
)

// Signature is the static shape class of a kernel. Two calls with equal
// signatures share one compiled kernel.
//
// For the matrix kernels M is the query block height, K the key head size
// and N the value head size. LDA, LDB and LDC are the row strides of the
// query, key and output operands. BTransposed is set when the key is laid
// out feature-major. Sequence lengths are not part of a signature, so the
// number of distinct signatures stays small.
type Signature struct {
	Kind        Kind
	Precision   tensor.DataType
	M, N, K     int
	LDA         int
	LDB         int
	LDC         int
	BTransposed bool
	Grouped     bool
}

// String returns a stable key for the signature.
func (s Signature) String() string {
	return fmt.Sprintf("%s/%s/m%d_n%d_k%d/lda%d_ldb%d_ldc%d/bt%t/g%t",
		s.Kind, s.Precision, s.M, s.N, s.K, s.LDA, s.LDB, s.LDC, s.BTransposed, s.Grouped)
}
