package cpu

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas"
)

func randSlice(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = rng.Float32()*2 - 1
	}
	return out
}

func TestNaiveSgemm_Small(t *testing.T) {
	// [2,3] @ [3,2]
	a := []float32{1, 2, 3, 4, 5, 6}
	b := []float32{7, 8, 9, 10, 11, 12}
	c := make([]float32, 4)

	NaiveSgemm(blas.NoTrans, blas.NoTrans, 2, 2, 3, 1, a, 3, b, 2, 0, c, 2)

	assert.Equal(t, []float32{58, 64, 139, 154}, c)
}

func TestSgemm_MatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m, n, k := 5, 7, 6
	tests := []struct {
		name   string
		tA, tB blas.Transpose
	}{
		{"NN", blas.NoTrans, blas.NoTrans},
		{"NT", blas.NoTrans, blas.Trans},
		{"TN", blas.Trans, blas.NoTrans},
		{"TT", blas.Trans, blas.Trans},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lda := k + 2
			if tt.tA == blas.Trans {
				lda = m + 2
			}
			ldb := n + 1
			if tt.tB == blas.Trans {
				ldb = k + 1
			}
			rows := map[blas.Transpose]int{blas.NoTrans: m, blas.Trans: k}[tt.tA]
			brows := map[blas.Transpose]int{blas.NoTrans: k, blas.Trans: n}[tt.tB]
			a := randSlice(rng, rows*lda)
			b := randSlice(rng, brows*ldb)
			c0 := randSlice(rng, m*n)

			want := append([]float32(nil), c0...)
			NaiveSgemm(tt.tA, tt.tB, m, n, k, 0.5, a, lda, b, ldb, 2, want, n)

			got := append([]float32(nil), c0...)
			New().Sgemm(tt.tA, tt.tB, m, n, k, 0.5, a, lda, b, ldb, 2, got, n)

			if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-5)); diff != "" {
				t.Errorf("Sgemm mismatch (-naive +blas):\n%s", diff)
			}
		})
	}
}

func TestWithoutBLAS(t *testing.T) {
	b := New(WithoutBLAS())
	assert.False(t, b.Capabilities().BLAS)
	assert.Equal(t, "CPU", b.Name())

	c := make([]float32, 1)
	b.Sgemm(blas.NoTrans, blas.Trans, 1, 1, 2, 1, []float32{1, 2}, 2, []float32{3, 4}, 2, 0, c, 1)
	assert.Equal(t, float32(11), c[0])
}

func TestWithCapabilities(t *testing.T) {
	b := New(WithCapabilities(Capabilities{AVX2: true, FMA: true, BLAS: true}))
	assert.True(t, b.Capabilities().HalfPrecision())
	assert.True(t, b.Capabilities().BLAS)

	b = New(WithoutBLAS(), WithCapabilities(Capabilities{BLAS: true}))
	assert.False(t, b.Capabilities().BLAS)
	assert.False(t, b.Capabilities().HalfPrecision())
}

func TestGemmFunc(t *testing.T) {
	var called bool
	var g Gemm = GemmFunc(func(_, _ blas.Transpose, _, _, _ int, _ float32,
		_ []float32, _ int, _ []float32, _ int, _ float32, _ []float32, _ int,
	) {
		called = true
	})
	g.Sgemm(blas.NoTrans, blas.NoTrans, 0, 0, 0, 1, nil, 1, nil, 1, 0, nil, 1)
	assert.True(t, called)
}

func TestFloat16RoundTrip(t *testing.T) {
	src := []float32{0, 1, -0.5, 1024, 3.140625}
	half := make([]float16.Float16, len(src))
	back := make([]float32, len(src))

	Float32ToFloat16(half, src)
	Float16ToFloat32(back, half)

	assert.Equal(t, src, back)
}

func TestDetectCapabilities(t *testing.T) {
	caps := DetectCapabilities()
	assert.NotEmpty(t, caps.Arch)
	assert.False(t, caps.BLAS, "BLAS is a backend property, not a hardware flag")
}

func BenchmarkSgemm(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	m, n, k := 64, 256, 64
	a := randSlice(rng, m*k)
	bm := randSlice(rng, n*k)
	c := make([]float32, m*n)

	b.Run("blas", func(b *testing.B) {
		be := New()
		for i := 0; i < b.N; i++ {
			be.Sgemm(blas.NoTrans, blas.Trans, m, n, k, 1, a, k, bm, k, 0, c, n)
		}
	})

	b.Run("naive", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			NaiveSgemm(blas.NoTrans, blas.Trans, m, n, k, 1, a, k, bm, k, 0, c, n)
		}
	})
}
