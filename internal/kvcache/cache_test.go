package kvcache

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/born-ml/sdpa/internal/backend/cpu"
	"github.com/born-ml/sdpa/internal/errdefs"
	"github.com/born-ml/sdpa/internal/tensor"
)

// tok fills a [B, H, L, S] view with base + b*1000 + h*100 + p*10 + s.
func tok(base float32, b, h, l, s int) tensor.View {
	v := tensor.Alloc(tensor.Float32, tensor.Shape{b, h, l, s})
	for i := 0; i < b; i++ {
		for j := 0; j < h; j++ {
			for p := 0; p < l; p++ {
				for k := 0; k < s; k++ {
					v.SetFloat32(base+float32(i*1000+j*100+p*10+k), i, j, p, k)
				}
			}
		}
	}
	return v
}

func readRow(r Reader, b, h, p int) []float32 {
	out := make([]float32, r.HeadSize())
	r.Row(b, h, p, out)
	return out
}

func want(base float32, b, h, p, s int) []float32 {
	out := make([]float32, s)
	for k := range out {
		out[k] = base + float32(b*1000+h*100+p*10+k)
	}
	return out
}

func newCache(t *testing.T, dt tensor.DataType) *Cache {
	t.Helper()
	c, err := New(dt, nil)
	require.NoError(t, err)
	return c
}

func TestAppend_FirstCall(t *testing.T) {
	c := newCache(t, tensor.Float32)
	k, v := tok(0, 2, 3, 4, 5), tok(0.5, 2, 3, 4, 5)

	require.NoError(t, c.Append(k, v, nil))

	assert.Equal(t, 4, c.Len())
	assert.Equal(t, 8, c.Keys().Capacity())
	assert.Equal(t, 2, c.Keys().Batch())
	assert.Equal(t, 3, c.Keys().Heads())
	assert.Equal(t, 5, c.Values().HeadSize())
	assert.Equal(t, k.ToFloat32(), c.Keys().Materialize().ToFloat32())
	assert.Equal(t, v.ToFloat32(), c.Values().Materialize().ToFloat32())
}

func TestAppend_GrowthDoublesAndPreserves(t *testing.T) {
	c := newCache(t, tensor.Float32)
	require.NoError(t, c.Append(tok(0, 1, 2, 3, 4), tok(0, 1, 2, 3, 4), nil))
	require.Equal(t, 6, c.Keys().Capacity())

	for step := 0; step < 4; step++ {
		base := float32(10000 * (step + 1))
		require.NoError(t, c.Append(tok(base, 1, 2, 1, 4), tok(base, 1, 2, 1, 4), nil))
	}

	assert.Equal(t, 7, c.Len())
	assert.Equal(t, 14, c.Keys().Capacity(), "capacity grows to 2*(L0+L1)")
	assert.Equal(t, 14, c.Values().Capacity())

	for h := 0; h < 2; h++ {
		for p := 0; p < 3; p++ {
			assert.Equal(t, want(0, 0, h, p, 4), readRow(c.Keys(), 0, h, p))
		}
		for step := 0; step < 4; step++ {
			base := float32(10000 * (step + 1))
			assert.Equal(t, want(base, 0, h, 0, 4), readRow(c.Keys(), 0, h, 3+step))
		}
	}
}

func TestAppend_IdentityBeamIsNoop(t *testing.T) {
	a := newCache(t, tensor.Float32)
	b := newCache(t, tensor.Float32)
	for _, c := range []*Cache{a, b} {
		require.NoError(t, c.Append(tok(0, 3, 1, 2, 2), tok(0, 3, 1, 2, 2), nil))
	}

	require.NoError(t, a.Append(tok(7000, 3, 1, 1, 2), tok(7000, 3, 1, 1, 2), []int32{0, 1, 2}))
	require.NoError(t, b.Append(tok(7000, 3, 1, 1, 2), tok(7000, 3, 1, 1, 2), nil))

	assert.Equal(t, b.Keys().Materialize().ToFloat32(), a.Keys().Materialize().ToFloat32())
	for row := 0; row < 3; row++ {
		for p := 0; p < 3; p++ {
			assert.Equal(t, row, a.Keys().Beam(row, p))
		}
	}
}

func TestAppend_BeamReorderInPlace(t *testing.T) {
	c := newCache(t, tensor.Float32)
	require.NoError(t, c.Append(tok(0, 2, 1, 2, 2), tok(0, 2, 1, 2, 2), nil))
	capBefore := c.Keys().Capacity()

	require.NoError(t, c.Append(tok(5000, 2, 1, 1, 2), tok(5000, 2, 1, 1, 2), []int32{1, 1}))

	keys := c.Keys()
	assert.Equal(t, capBefore, keys.Capacity(), "reorder must not reallocate")
	for row := 0; row < 2; row++ {
		for p := 0; p < 2; p++ {
			assert.Equal(t, 1, keys.Beam(row, p))
			assert.Equal(t, want(0, 1, 0, p, 2), readRow(keys, row, 0, p))
		}
		assert.Equal(t, row, keys.Beam(row, 2))
		assert.Equal(t, want(5000, row, 0, 0, 2), readRow(keys, row, 0, 2))
	}
}

func TestAppend_RebuildComposesBeamTable(t *testing.T) {
	c := newCache(t, tensor.Float32)
	require.NoError(t, c.Append(tok(0, 2, 1, 2, 2), tok(0, 2, 1, 2, 2), nil))
	require.NoError(t, c.Append(tok(5000, 2, 1, 1, 2), tok(5000, 2, 1, 1, 2), []int32{1, 1}))

	// Batch shrinks to the single surviving beam, logical row 0.
	require.NoError(t, c.Append(tok(9000, 1, 1, 1, 2), tok(9000, 1, 1, 1, 2), []int32{0}))

	keys := c.Keys()
	assert.Equal(t, 1, keys.Batch())
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, 8, keys.Capacity())
	assert.Equal(t, want(0, 1, 0, 0, 2), readRow(keys, 0, 0, 0))
	assert.Equal(t, want(0, 1, 0, 1, 2), readRow(keys, 0, 0, 1))
	assert.Equal(t, want(5000, 0, 0, 0, 2), readRow(keys, 0, 0, 2))
	assert.Equal(t, want(9000, 0, 0, 0, 2), readRow(keys, 0, 0, 3))
	for p := 0; p < 4; p++ {
		assert.Equal(t, 0, keys.Beam(0, p), "rebuild installs an identity beam table")
	}
}

func TestAppend_RebuildGrowsBatch(t *testing.T) {
	c := newCache(t, tensor.Float32)
	require.NoError(t, c.Append(tok(0, 2, 2, 3, 2), tok(0, 2, 2, 3, 2), nil))
	require.NoError(t, c.Append(tok(5000, 3, 2, 1, 2), tok(5000, 3, 2, 1, 2), []int32{1, 0, 1}))

	vals := c.Values()
	src := []int{1, 0, 1}
	for row := 0; row < 3; row++ {
		for h := 0; h < 2; h++ {
			for p := 0; p < 3; p++ {
				assert.Equal(t, want(0, src[row], h, p, 2), readRow(vals, row, h, p))
			}
			assert.Equal(t, want(5000, row, h, 0, 2), readRow(vals, row, h, 3))
		}
	}
}

func TestAppend_InvalidBeamIndex(t *testing.T) {
	c := newCache(t, tensor.Float32)
	require.NoError(t, c.Append(tok(0, 2, 1, 2, 2), tok(0, 2, 1, 2, 2), nil))

	for _, idx := range [][]int32{{0, 2}, {-1, 0}, {0, 1, 5}} {
		err := c.Append(tok(0, len(idx), 1, 1, 2), tok(0, len(idx), 1, 1, 2), idx)
		assert.ErrorIs(t, err, errdefs.ErrInvalidBeamIndex, "%v", idx)
	}
	assert.Equal(t, 2, c.Len(), "rejected calls leave the cache untouched")
}

func TestAppend_BatchChangeNeedsBeams(t *testing.T) {
	c := newCache(t, tensor.Float32)
	require.NoError(t, c.Append(tok(0, 2, 1, 2, 2), tok(0, 2, 1, 2, 2), nil))

	err := c.Append(tok(0, 3, 1, 1, 2), tok(0, 3, 1, 1, 2), nil)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)

	err = c.Append(tok(0, 2, 1, 1, 2), tok(0, 2, 1, 1, 2), []int32{0})
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestAppend_ShapeErrors(t *testing.T) {
	c := newCache(t, tensor.Float32)
	require.NoError(t, c.Append(tok(0, 1, 2, 2, 4), tok(0, 1, 2, 2, 4), nil))

	tests := []struct {
		name string
		k, v tensor.View
	}{
		{"rank", tensor.Alloc(tensor.Float32, tensor.Shape{1, 2, 4}), tok(0, 1, 2, 1, 4)},
		{"heads", tok(0, 1, 3, 1, 4), tok(0, 1, 3, 1, 4)},
		{"head size", tok(0, 1, 2, 1, 8), tok(0, 1, 2, 1, 4)},
		{"k/v positions", tok(0, 1, 2, 1, 4), tok(0, 1, 2, 2, 4)},
		{"nil", tensor.View{}, tok(0, 1, 2, 1, 4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, c.Append(tt.k, tt.v, nil), errdefs.ErrConfiguration)
		})
	}

	ints := tensor.Alloc(tensor.Int32, tensor.Shape{1, 2, 1, 4})
	assert.ErrorIs(t, c.Append(ints, ints, nil), errdefs.ErrPrecisionUnsupported)
}

func TestReset_OneSidedRejected(t *testing.T) {
	c := newCache(t, tensor.Float32)
	require.NoError(t, c.Append(tok(0, 1, 1, 2, 2), tok(0, 1, 1, 2, 2), nil))

	c.MarkReset(true, tok(0, 1, 1, 2, 2))
	err := c.Append(tok(0, 1, 1, 1, 2), tok(0, 1, 1, 1, 2), nil)
	assert.ErrorIs(t, err, errdefs.ErrCacheStateInconsistency)
	assert.Equal(t, 2, c.Len())
}

func TestReset_SeedLengthMismatch(t *testing.T) {
	c := newCache(t, tensor.Float32)
	c.Reset(tok(0, 1, 1, 2, 2), tok(0, 1, 1, 3, 2))
	err := c.Append(tok(0, 1, 1, 1, 2), tok(0, 1, 1, 1, 2), nil)
	assert.ErrorIs(t, err, errdefs.ErrCacheStateInconsistency)
}

func TestReset_SeedsHistory(t *testing.T) {
	c := newCache(t, tensor.Float32)
	require.NoError(t, c.Append(tok(0, 2, 1, 4, 2), tok(0, 2, 1, 4, 2), nil))
	require.NoError(t, c.Append(tok(500, 2, 1, 1, 2), tok(500, 2, 1, 1, 2), []int32{1, 0}))

	c.Reset(tok(3000, 2, 1, 2, 2), tok(4000, 2, 1, 2, 2))
	// Beam indices are ignored on the call that consumes a reset.
	require.NoError(t, c.Append(tok(8000, 2, 1, 1, 2), tok(8000, 2, 1, 1, 2), []int32{1, 1}))

	assert.Equal(t, 3, c.Len())
	for row := 0; row < 2; row++ {
		for p := 0; p < 2; p++ {
			assert.Equal(t, want(3000, row, 0, p, 2), readRow(c.Keys(), row, 0, p))
			assert.Equal(t, want(4000, row, 0, p, 2), readRow(c.Values(), row, 0, p))
		}
		assert.Equal(t, want(8000, row, 0, 0, 2), readRow(c.Keys(), row, 0, 2))
		for p := 0; p < 3; p++ {
			assert.Equal(t, row, c.Keys().Beam(row, p))
		}
	}
}

func TestReset_EmptySeed(t *testing.T) {
	c := newCache(t, tensor.Float32)
	require.NoError(t, c.Append(tok(0, 1, 1, 5, 2), tok(0, 1, 1, 5, 2), nil))

	c.Reset(tensor.View{}, tensor.View{})
	require.NoError(t, c.Append(tok(100, 3, 2, 2, 4), tok(100, 3, 2, 2, 4), nil))

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 3, c.Keys().Batch())
	assert.Equal(t, 2, c.Keys().Heads())
	assert.Equal(t, want(100, 2, 1, 1, 4), readRow(c.Keys(), 2, 1, 1))
}

func TestReader_EmptyHistory(t *testing.T) {
	c := newCache(t, tensor.Float32)
	keys := c.Keys()
	assert.Equal(t, 0, keys.Len())
	assert.Equal(t, tensor.Shape{0, 0, 0, 0}, keys.Materialize().Shape())
	assert.PanicsWithValue(t, "kvcache: read of empty key history", func() {
		keys.Dot(0, 0, 0, []float32{1})
	})
	assert.Panics(t, func() { c.Values().Row(0, 0, 0, make([]float32, 1)) })
}

func TestQuantizedCache_RoundTrip(t *testing.T) {
	c := newCache(t, tensor.Uint8)
	k := tok(0, 2, 2, 3, 8)
	require.NoError(t, c.Append(k, k, nil))
	require.NoError(t, c.Append(tok(0.25, 2, 2, 1, 8), tok(0.25, 2, 2, 1, 8), []int32{1, 0}))

	keys := c.Keys()
	for b := 0; b < 2; b++ {
		for h := 0; h < 2; h++ {
			for p := 0; p < 3; p++ {
				src := want(0, 1-b, h, p, 8)
				got := readRow(keys, b, h, p)
				// Row range is 7, so scale is 7/255.
				for i := range src {
					assert.LessOrEqual(t, math.Abs(float64(src[i]-got[i])), 7.0/255/2+1e-3)
				}

				x := []float32{1, -1, 0.5, 2, 0, 0, 1, 3}
				var dot float32
				for i := range x {
					dot += x[i] * got[i]
				}
				assert.InEpsilon(t, dot, keys.Dot(b, h, p, x), 1e-4)
			}
		}
	}
}

func TestQuantizedCache_GrowAndRebuild(t *testing.T) {
	c := newCache(t, tensor.Uint8)
	require.NoError(t, c.Append(tok(0, 2, 2, 3, 8), tok(0, 2, 2, 3, 8), nil))
	require.Equal(t, 6, c.Keys().Capacity())

	// origin[b][p] is the incoming row whose token logical row b holds at p.
	origin := [][]int{{0, 0, 0}, {1, 1, 1}}
	step := func(batch int, beams []int32) {
		t.Helper()
		p := c.Len()
		x := tok(float32(10*p), batch, 2, 1, 8)
		require.NoError(t, c.Append(x, x, beams))

		next := make([][]int, batch)
		for b := range next {
			src := b
			if beams != nil {
				src = int(beams[b])
			}
			next[b] = append(append([]int{}, origin[src]...), b)
		}
		origin = next
	}

	step(2, nil)
	step(2, []int32{1, 0})
	step(2, []int32{0, 0})
	step(2, []int32{1, 0})
	assert.Equal(t, 14, c.Keys().Capacity(), "append past capacity 6 grows to 2*7")

	step(3, []int32{1, 0, 1})
	assert.Equal(t, 3, c.Keys().Batch())
	assert.Equal(t, 16, c.Keys().Capacity())
	require.Equal(t, 8, c.Len())
	assert.Equal(t, 3*2*16*8, c.k.buf.bytes(), "one byte per quantized feature")

	// Row range is 7, so scale is 7/255.
	const tol = 7.0/255/2 + 1e-3
	for _, r := range []Reader{c.Keys(), c.Values()} {
		for b := 0; b < 3; b++ {
			for h := 0; h < 2; h++ {
				for p := 0; p < c.Len(); p++ {
					src := want(0, origin[b][p], h, p, 8)
					got := readRow(r, b, h, p)
					for i := range src {
						assert.LessOrEqualf(t, math.Abs(float64(src[i]-got[i])), tol,
							"row b=%d h=%d p=%d feature %d", b, h, p, i)
					}
				}
			}
		}
	}
}

func TestHalfCache_Rounds(t *testing.T) {
	c := newCache(t, tensor.Float16)
	k := tensor.Must(tensor.FromFloat32([]float32{0.1, 0.2, 0.3, 0.4}, tensor.Shape{1, 1, 2, 2}))
	require.NoError(t, c.Append(k, k, nil))

	got := readRow(c.Keys(), 0, 0, 1)
	assert.Equal(t, []float32{
		float16.Fromfloat32(0.3).Float32(),
		float16.Fromfloat32(0.4).Float32(),
	}, got)

	acc := make([]float32, 2)
	c.Values().Accumulate(0, 0, 1, 2, acc)
	assert.Equal(t, []float32{2 * got[0], 2 * got[1]}, acc)
}

func TestNew_RejectsPrecision(t *testing.T) {
	_, err := New(tensor.Int32, nil)
	assert.ErrorIs(t, err, errdefs.ErrPrecisionUnsupported)
}

func TestResolvePrecision(t *testing.T) {
	half := cpu.Capabilities{AVX2: true, FMA: true}
	none := cpu.Capabilities{}

	assert.Equal(t, tensor.Uint8, ResolvePrecision("u8", none, nil))
	assert.Equal(t, tensor.Float16, ResolvePrecision("f16", half, nil))
	assert.Equal(t, tensor.Float32, ResolvePrecision("f16", none, nil))
	assert.Equal(t, tensor.Float32, ResolvePrecision("f32", half, nil))
	assert.Equal(t, tensor.Float32, ResolvePrecision("", half, nil))
}

func BenchmarkAppend_SingleToken(b *testing.B) {
	c, _ := New(tensor.Float32, nil)
	_ = c.Append(tok(0, 4, 8, 16, 64), tok(0, 4, 8, 16, 64), nil)
	k := tok(0, 4, 8, 1, 64)
	beams := []int32{3, 2, 1, 0}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if c.Len() > 4096 {
			c.Reset(tensor.View{}, tensor.View{})
		}
		_ = c.Append(k, k, beams)
	}
}
