// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/sdpa/internal/backend/cpu"
	"github.com/born-ml/sdpa/internal/kernel"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Capabilities describes host features relevant to kernel selection.
type Capabilities = internalcpu.Capabilities

// Option configures a Backend.
type Option = internalcpu.Option

// Compile-time check that Backend can serve a session.
var _ kernel.Backend = (*Backend)(nil)

// New creates a new CPU backend.
//
// Example:
//
//	backend := cpu.New()
//	fmt.Println(backend.Capabilities().BLAS) // true
func New(opts ...Option) *Backend {
	return internalcpu.New(opts...)
}

// WithoutBLAS disables the vendor matrix multiply. Sessions using the
// backend select the reference kernel for ungrouped multi-token calls.
func WithoutBLAS() Option {
	return internalcpu.WithoutBLAS()
}

// WithCapabilities overrides detected hardware capabilities.
func WithCapabilities(caps Capabilities) Option {
	return internalcpu.WithCapabilities(caps)
}

// DetectCapabilities reads the host CPU features.
func DetectCapabilities() Capabilities {
	return internalcpu.DetectCapabilities()
}
