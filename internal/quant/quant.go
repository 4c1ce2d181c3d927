// Package quant implements per-row affine uint8 quantization of cache rows.
//
// A row x is stored as q = round(x/scale + zp) clamped to [0, 255] and
// reconstructed as (q - zp) * scale. The zero point stays a float so that
// reconstruction of the row minimum is exact up to float rounding.
package quant

import "math"

// Params are the per-row quantization parameters.
type Params struct {
	Scale float32
	Zero  float32
}

// Quantize encodes src into dst and returns the row parameters.
// dst must hold at least len(src) elements.
func Quantize(src []float32, dst []uint8) Params {
	if len(src) == 0 {
		return Params{Scale: 1}
	}
	lo, hi := src[0], src[0]
	for _, v := range src[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	scale := (hi - lo) / 255
	if scale == 0 {
		scale = 1
	}
	zp := -lo / scale

	inv := 1 / scale
	dst = dst[:len(src)]
	for i, v := range src {
		q := math.Round(float64(v*inv + zp))
		switch {
		case q < 0:
			q = 0
		case q > 255:
			q = 255
		}
		dst[i] = uint8(q)
	}
	return Params{Scale: scale, Zero: zp}
}

// Dequantize decodes src into dst.
func Dequantize(dst []float32, src []uint8, p Params) {
	dst = dst[:len(src)]
	for i, q := range src {
		dst[i] = (float32(q) - p.Zero) * p.Scale
	}
}

// Dot returns the dot product of x with the dequantized row q.
//
// sum((q_i - zp) * scale * x_i) = scale * (sum(q_i * x_i) - zp * sum(x_i))
func Dot(x []float32, q []uint8, p Params) float32 {
	var qx, sx float32
	q = q[:len(x)]
	for i, v := range x {
		qx += float32(q[i]) * v
		sx += v
	}
	return p.Scale * (qx - p.Zero*sx)
}

// Accumulate adds w times the dequantized row q into acc.
func Accumulate(acc []float32, w float32, q []uint8, p Params) {
	ws := w * p.Scale
	off := p.Zero * ws
	q = q[:len(acc)]
	for i := range acc {
		acc[i] += float32(q[i])*ws - off
	}
}
