// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/sdpa/tensor"
)

func TestPublicAPI(t *testing.T) {
	data := []float32{0, 1, 2, 3, 4, 5}
	v, err := tensor.FromFloat32(data, tensor.Shape{2, 3})
	require.NoError(t, err)

	assert.Equal(t, tensor.Float32, v.DType())
	assert.Equal(t, float32(5), v.Permute(1, 0).Float32At(2, 1))

	m := tensor.Must(tensor.FromUint8([]uint8{1, 0}, tensor.Shape{1, 2}))
	assert.Equal(t, tensor.Uint8, m.DType())

	dt, ok := tensor.ParseDataType("f16")
	require.True(t, ok)
	assert.Equal(t, tensor.Float16, tensor.Alloc(dt, tensor.Shape{4}).DType())
}
