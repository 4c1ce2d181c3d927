// Package nn implements the scaled dot-product attention node: request
// validation, KV cache orchestration and kernel dispatch.
package nn

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/born-ml/sdpa/internal/backend/cpu"
	"github.com/born-ml/sdpa/internal/config"
	"github.com/born-ml/sdpa/internal/kernel"
	"github.com/born-ml/sdpa/internal/parallel"
)

// Session owns everything attention nodes share: the kernel cache, the
// executor and the CPU backend. Nodes created from one session reuse each
// other's compiled kernels.
type Session struct {
	id         uuid.UUID
	log        *slog.Logger
	cache      *kernel.Cache
	ex         parallel.Executor
	backend    kernel.Backend
	dispatcher *kernel.Dispatcher
}

type sessionOptions struct {
	log     *slog.Logger
	backend kernel.Backend
	ex      parallel.Executor
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) SessionOption {
	return func(o *sessionOptions) { o.log = log }
}

// WithBackend sets the matrix multiply backend and host capabilities.
func WithBackend(b kernel.Backend) SessionOption {
	return func(o *sessionOptions) { o.backend = b }
}

// WithExecutor sets the parallel executor.
func WithExecutor(ex parallel.Executor) SessionOption {
	return func(o *sessionOptions) { o.ex = ex }
}

// DefaultSessionOptions returns options derived from the environment.
func DefaultSessionOptions() []SessionOption {
	var backendOpts []cpu.Option
	if config.DisableBLAS() {
		backendOpts = append(backendOpts, cpu.WithoutBLAS())
	}
	return []SessionOption{
		WithBackend(cpu.New(backendOpts...)),
		WithExecutor(parallel.NewPool(parallel.DefaultConfig())),
	}
}

// NewSession creates a session. Options are applied on top of
// DefaultSessionOptions.
func NewSession(opts ...SessionOption) *Session {
	o := &sessionOptions{}
	for _, opt := range append(DefaultSessionOptions(), opts...) {
		opt(o)
	}

	id := uuid.New()
	log := o.log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session", id.String())

	cache := kernel.NewCache(log)
	s := &Session{
		id:         id,
		log:        log,
		cache:      cache,
		ex:         o.ex,
		backend:    o.backend,
		dispatcher: kernel.NewDispatcher(cache, o.ex, o.backend, log),
	}
	caps := o.backend.Capabilities()
	log.Debug("session created", "arch", caps.Arch, "blas", caps.BLAS, "half", caps.HalfPrecision())
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Capabilities returns the host capabilities kernels are selected for.
func (s *Session) Capabilities() cpu.Capabilities { return s.backend.Capabilities() }

// Kernels returns the number of compiled kernels held by the session.
func (s *Session) Kernels() int { return s.cache.Len() }

// Close drops every compiled kernel.
func (s *Session) Close() {
	s.cache.Close()
	s.log.Debug("session closed")
}
