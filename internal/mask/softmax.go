package mask

import "math"

// Softmax normalizes row[:n] in place and zeroes row[n:].
//
// The row maximum is subtracted before exponentiating and the sum is
// accumulated in float64. A row whose valid part is entirely -Inf (or
// empty) has no admissible key and becomes all zeros.
func Softmax(row []float32, n int) {
	n = min(n, len(row))
	clear(row[n:])
	if n == 0 {
		return
	}

	maxVal := row[0]
	for _, v := range row[1:n] {
		maxVal = max(maxVal, v)
	}
	if math.IsInf(float64(maxVal), -1) {
		clear(row[:n])
		return
	}

	var sum float64
	for i := 0; i < n; i++ {
		e := math.Exp(float64(row[i] - maxVal))
		row[i] = float32(e)
		sum += e
	}
	inv := float32(1 / sum)
	for i := 0; i < n; i++ {
		row[i] *= inv
	}
}
