// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides strided views over caller-owned memory.
//
// # Overview
//
// A View describes how a flat buffer is read as an n-dimensional tensor:
//   - DataType: Float32, Float16, Uint8 or Int32
//   - Shape and per-axis strides, in elements
//   - A base offset and the axis permutation applied so far
//
// Views never copy. Slice, Select, Permute and InsertAxis return new views
// over the same storage, and writes through any of them are visible to all.
//
// # Basic Usage
//
//	import "github.com/born-ml/sdpa/tensor"
//
//	func main() {
//	    data := make([]float32, 2*8*16*64)
//	    q, err := tensor.FromFloat32(data, tensor.Shape{2, 8, 16, 64}) // [B, H, L, S]
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    // The same memory read as [B, L, H, S].
//	    t := q.Permute(0, 2, 1, 3)
//	    _ = t
//	}
//
// # Precision
//
// Float16 views hold github.com/x448/float16 values. Element access always
// goes through float32, so kernels read any floating precision the same way.
package tensor
