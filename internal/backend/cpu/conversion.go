package cpu

import "github.com/x448/float16"

// Float32ToFloat16 converts src into dst with round-to-nearest-even.
func Float32ToFloat16(dst []float16.Float16, src []float32) {
	dst = dst[:len(src)]
	for i, v := range src {
		dst[i] = float16.Fromfloat32(v)
	}
}

// Float16ToFloat32 widens src into dst.
func Float16ToFloat32(dst []float32, src []float16.Float16) {
	dst = dst[:len(src)]
	for i, v := range src {
		dst[i] = v.Float32()
	}
}
