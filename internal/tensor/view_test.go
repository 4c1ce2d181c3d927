package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func TestFromFloat32_Strides(t *testing.T) {
	v, err := FromFloat32(seq(24), Shape{2, 3, 4})
	require.NoError(t, err)

	assert.Equal(t, []int{12, 4, 1}, v.Strides())
	assert.Equal(t, float32(17), v.Float32At(1, 1, 1))
	assert.True(t, v.IsContiguous())
	assert.Equal(t, Float32, v.DType())
}

func TestFromFloat32_TooSmall(t *testing.T) {
	_, err := FromFloat32(seq(5), Shape{2, 3})
	require.Error(t, err)
}

func TestView_ZeroSizedAxis(t *testing.T) {
	v, err := FromFloat32(nil, Shape{1, 2, 0, 4})
	require.NoError(t, err)
	assert.Equal(t, 0, v.NumElements())
	assert.Empty(t, v.ToFloat32())
}

func TestView_SliceSharesStorage(t *testing.T) {
	data := seq(24)
	v := Must(FromFloat32(data, Shape{2, 3, 4}))

	s := v.Slice(1, 1, 3)
	require.Equal(t, Shape{2, 2, 4}, s.Shape())
	assert.Equal(t, float32(4), s.Float32At(0, 0, 0))
	assert.Equal(t, float32(23), s.Float32At(1, 1, 3))

	s.SetFloat32(-1, 0, 0, 0)
	assert.Equal(t, float32(-1), data[4], "slice must write through to storage")
	assert.False(t, s.IsContiguous())
}

func TestView_Permute(t *testing.T) {
	v := Must(FromFloat32(seq(24), Shape{2, 3, 4}))
	p := v.Permute(2, 0, 1)

	assert.Equal(t, Shape{4, 2, 3}, p.Shape())
	assert.Equal(t, []int{2, 0, 1}, p.Perm())
	for a := 0; a < 2; a++ {
		for b := 0; b < 3; b++ {
			for c := 0; c < 4; c++ {
				assert.Equal(t, v.Float32At(a, b, c), p.Float32At(c, a, b))
			}
		}
	}

	back := p.Permute(1, 2, 0)
	assert.Equal(t, []int{0, 1, 2}, back.Perm())
	assert.Equal(t, v.ToFloat32(), back.ToFloat32())
}

func TestView_PermuteInvalid(t *testing.T) {
	v := Must(FromFloat32(seq(6), Shape{2, 3}))
	assert.Panics(t, func() { v.Permute(0, 0) })
	assert.Panics(t, func() { v.Permute(0) })
}

func TestView_Select(t *testing.T) {
	v := Must(FromFloat32(seq(24), Shape{2, 3, 4}))
	s := v.Select(1, 2)
	assert.Equal(t, Shape{2, 4}, s.Shape())
	assert.Equal(t, float32(8), s.Float32At(0, 0))
	assert.Equal(t, float32(23), s.Float32At(1, 3))
}

func TestView_InsertAxisBroadcast(t *testing.T) {
	v := Must(FromFloat32(seq(6), Shape{2, 3}))
	u := v.InsertAxis(1).InsertAxis(1)

	require.Equal(t, Shape{2, 1, 1, 3}, u.Shape())
	assert.Equal(t, float32(5), u.BroadcastFloat32At(1, 7, 3, 2))
	assert.Panics(t, func() { u.Float32At(1, 7, 3, 2) })
}

func TestView_Reshape(t *testing.T) {
	v := Must(FromFloat32(seq(24), Shape{2, 3, 4}))
	r, err := v.Reshape(Shape{6, 4})
	require.NoError(t, err)
	assert.Equal(t, float32(13), r.Float32At(3, 1))

	_, err = v.Permute(1, 0, 2).Reshape(Shape{24})
	require.Error(t, err)

	_, err = v.Reshape(Shape{5, 5})
	require.Error(t, err)
}

func TestView_LoadStoreRow_Strided(t *testing.T) {
	v := Must(FromFloat32(seq(12), Shape{3, 4}))
	cols := v.Permute(1, 0) // rows of length 3 with stride 4

	row := make([]float32, 3)
	cols.LoadRow(row, 1)
	assert.Equal(t, []float32{1, 5, 9}, row)

	cols.StoreRow([]float32{-1, -2, -3}, 2)
	assert.Equal(t, float32(-1), v.Float32At(0, 2))
	assert.Equal(t, float32(-3), v.Float32At(2, 2))
}

func TestView_DotAndAccumulateRow(t *testing.T) {
	v := Must(FromFloat32(seq(12), Shape{3, 4}))
	x := []float32{1, 0, 2}

	// Contiguous rows and strided columns take different paths.
	assert.Equal(t, float32(4+12), v.DotRow([]float32{1, 0, 2, 0}, 1))
	assert.Equal(t, float32(1+2*9), v.Permute(1, 0).DotRow(x, 1))

	acc := []float32{1, 1, 1}
	v.Permute(1, 0).AccumulateRow(acc, 2, 3)
	assert.Equal(t, []float32{1 + 6, 1 + 14, 1 + 22}, acc)
}

func TestView_Float16(t *testing.T) {
	data := make([]float16.Float16, 4)
	v := Must(FromFloat16(data, Shape{2, 2}))

	v.StoreRow([]float32{0.5, -2}, 1)
	assert.Equal(t, float16.Fromfloat32(-2), data[3])

	row := make([]float32, 2)
	v.LoadRow(row, 1)
	assert.Equal(t, []float32{0.5, -2}, row)
	assert.Panics(t, func() { v.Float32s() })
}

func TestAlloc(t *testing.T) {
	for _, dt := range []DataType{Float32, Float16, Uint8, Int32} {
		v := Alloc(dt, Shape{2, 3})
		assert.Equal(t, dt, v.DType())
		assert.Equal(t, make([]float32, 6), v.ToFloat32())
	}
}

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in   string
		want DataType
		ok   bool
	}{
		{"f32", Float32, true},
		{"f16", Float16, true},
		{"float16", Float16, true},
		{"u8", Uint8, true},
		{"bf16", Float32, false},
	}
	for _, tt := range tests {
		got, ok := ParseDataType(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestView_IsNil(t *testing.T) {
	var v View
	assert.True(t, v.IsNil())
	assert.Equal(t, "View(nil)", v.String())
}
