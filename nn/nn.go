// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"log/slog"

	"github.com/born-ml/sdpa/internal/errdefs"
	"github.com/born-ml/sdpa/internal/kernel"
	"github.com/born-ml/sdpa/internal/nn"
	"github.com/born-ml/sdpa/internal/parallel"
)

// Session owns the kernel cache, executor and backend shared by nodes.
type Session = nn.Session

// SessionOption configures a Session.
type SessionOption = nn.SessionOption

// Node is a scaled dot-product attention operator.
type Node = nn.Node

// Config configures a Node.
type Config = nn.Config

// Request is one attention call.
type Request = nn.Request

// Kernel identifies the compute routine that ran a call.
type Kernel = kernel.Kind

// Kernel kinds.
const (
	KernelReference   Kernel = kernel.Reference
	KernelMatMul      Kernel = kernel.MatMul
	KernelMultiQuery  Kernel = kernel.MultiQuery
	KernelSingleToken Kernel = kernel.SingleToken
)

// Backend is what a session multiplies with. *cpu.Backend implements it.
type Backend = kernel.Backend

// Executor runs independent row ranges, possibly concurrently.
type Executor = parallel.Executor

// Errors returned by attention calls.
var (
	ErrConfiguration           = errdefs.ErrConfiguration
	ErrInvalidBeamIndex        = errdefs.ErrInvalidBeamIndex
	ErrPrecisionUnsupported    = errdefs.ErrPrecisionUnsupported
	ErrCacheStateInconsistency = errdefs.ErrCacheStateInconsistency
)

// NewSession creates a session configured from the environment and opts.
//
// Example:
//
//	s := nn.NewSession(nn.WithLogger(logger))
//	defer s.Close()
func NewSession(opts ...SessionOption) *Session {
	return nn.NewSession(opts...)
}

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) SessionOption {
	return nn.WithLogger(log)
}

// WithBackend sets the backend.
func WithBackend(b Backend) SessionOption {
	return nn.WithBackend(b)
}

// WithExecutor sets the parallel executor.
func WithExecutor(ex Executor) SessionOption {
	return nn.WithExecutor(ex)
}

// NewPool returns an Executor limited to workers goroutines.
func NewPool(workers int) Executor {
	return parallel.NewPool(parallel.Config{Enabled: workers > 1, NumWorkers: workers, MinChunkSize: 1})
}

// Sequential returns an Executor that runs everything on the caller's
// goroutine.
func Sequential() Executor {
	return parallel.Sequential{}
}
