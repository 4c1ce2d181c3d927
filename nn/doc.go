// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the scaled dot-product attention operator.
//
// # Overview
//
// A Session owns the state nodes share: compiled kernels, the parallel
// executor and the CPU backend. A Node is one attention operator:
//
//	out = softmax(scale * Q·Kᵀ + bias) · V
//
// Query heads may outnumber key/value heads (grouped-query attention) as
// long as they are a whole multiple of them.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/sdpa/nn"
//	    "github.com/born-ml/sdpa/tensor"
//	)
//
//	func main() {
//	    s := nn.NewSession()
//	    defer s.Close()
//
//	    node, err := s.NewNode(nn.Config{Causal: true})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    out := tensor.Alloc(tensor.Float32, tensor.Shape{1, 8, 16, 64})
//	    err = node.Forward(ctx, &nn.Request{Query: q, Key: k, Value: v, Output: out})
//	}
//
// # KV Cache
//
// With Config.FuseWithCache the node keeps the key/value history itself.
// Each call passes only the new positions; decode steps read the history
// in place through a beam table, so beam-search reorders pass BeamIdx and
// never copy rows:
//
//	node, _ := s.NewNode(nn.Config{Causal: true, FuseWithCache: true})
//	_ = node.Forward(ctx, &nn.Request{Query: q, Key: k, Value: v, Output: out})          // prompt
//	_ = node.Forward(ctx, &nn.Request{Query: q1, Key: k1, Value: v1, BeamIdx: parents, Output: out1}) // step
//
// The history is stored in f32, f16 or u8 (per-row scale and zero point),
// selected by Config.KVCachePrecision or BORN_KV_CACHE_TYPE.
//
// # Masks
//
// Request.Mask is additive (float) or boolean (Uint8, nonzero keeps).
// Request.Alibi is an additive bias. Request.CausalMask is a Uint8 mask
// whose polarity is set by Config.CausalMaskZeroMasked. Each may be rank 2
// [batch, kvLen], 3 [batch, qLen, kvLen] or 4 and broadcasts over size 1
// axes.
//
// # Errors
//
// Failures wrap one of ErrConfiguration, ErrInvalidBeamIndex,
// ErrPrecisionUnsupported or ErrCacheStateInconsistency; test with
// errors.Is.
package nn
