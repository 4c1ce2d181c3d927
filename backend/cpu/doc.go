// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the CPU backend used by attention sessions.
//
// # Overview
//
// The backend supplies two things to kernel selection and compute:
//   - Sgemm, backed by gonum's pure Go blas32 implementation
//   - Capabilities, read from golang.org/x/sys/cpu
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/sdpa/backend/cpu"
//	    "github.com/born-ml/sdpa/nn"
//	)
//
//	func main() {
//	    // Force the reference kernels, e.g. to cross-check results.
//	    s := nn.NewSession(nn.WithBackend(cpu.New(cpu.WithoutBLAS())))
//	    defer s.Close()
//	}
package cpu
