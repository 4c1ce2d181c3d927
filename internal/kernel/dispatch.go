package kernel

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/born-ml/sdpa/internal/backend/cpu"
	"github.com/born-ml/sdpa/internal/config"
	"github.com/born-ml/sdpa/internal/errdefs"
	"github.com/born-ml/sdpa/internal/mask"
	"github.com/born-ml/sdpa/internal/metrics"
	"github.com/born-ml/sdpa/internal/parallel"
	"github.com/born-ml/sdpa/internal/tensor"
)

// Backend is the host service the matrix kernels multiply with.
type Backend interface {
	cpu.Gemm
	Capabilities() cpu.Capabilities
}

// Materializer is implemented by histories that can be gathered into a
// dense [batch, heads, length, headSize] view.
type Materializer interface {
	Materialize() tensor.View
}

// Dispatcher selects a kernel for each call, fetches it from the kernel
// cache and runs it.
type Dispatcher struct {
	cache      *Cache
	ex         parallel.Executor
	backend    Backend
	queryBlock int
	log        *slog.Logger
}

// NewDispatcher returns a dispatcher that builds kernels into cache and
// runs them on ex.
func NewDispatcher(cache *Cache, ex parallel.Executor, backend Backend, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		cache:      cache,
		ex:         ex,
		backend:    backend,
		queryBlock: int(config.QueryBlock()),
		log:        log,
	}
}

// Dispatch computes req and returns the kernel that ran. cacheLen is the
// number of positions cached before this call and fused reports whether
// req reads its history from the cache.
func (d *Dispatcher) Dispatch(req *Request, cacheLen int, fused bool) (Kind, error) {
	if req.Mask == nil {
		req.Mask = &mask.Policy{}
	}
	if err := req.Validate(); err != nil {
		return Reference, err
	}
	dm := req.dims()

	sel := Selection{
		QueryLen:      dm.Q,
		CacheLen:      cacheLen,
		Grouped:       dm.Group > 1,
		Precision:     req.Query.DType(),
		FuseWithCache: fused,
		Caps:          d.backend.Capabilities(),
	}
	kind, err := Select(sel)
	if err != nil {
		return kind, err
	}
	if isPrecisionFallback(sel, kind) {
		metrics.PrecisionFallbacks.WithLabelValues(sel.Precision.String()).Inc()
		d.log.Warn("no accelerated path for precision, using reference kernel", "precision", sel.Precision)
	}

	switch {
	case kind == SingleToken && req.KeyHistory == nil:
		req.KeyHistory, req.ValueHistory = ViewHistory{V: req.Key}, ViewHistory{V: req.Value}
	case kind != SingleToken && req.Key.IsNil():
		km, kok := req.KeyHistory.(Materializer)
		vm, vok := req.ValueHistory.(Materializer)
		if !kok || !vok {
			return kind, fmt.Errorf("%w: %s kernel needs dense key and value", errdefs.ErrConfiguration, kind)
		}
		req.Key, req.Value = km.Materialize(), vm.Materialize()
	}
	// An empty history has nothing to multiply; the reference kernel
	// writes the zero rows.
	if dm.KV == 0 && (kind == MatMul || kind == MultiQuery) {
		kind = Reference
	}

	k, err := GetOrCreate(d.cache, d.signature(kind, req, dm), d.build)
	if err != nil {
		return kind, err
	}

	start := time.Now()
	err = k.Compute(req)
	metrics.Dispatches.WithLabelValues(kind.String()).Inc()
	metrics.DispatchDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		return kind, fmt.Errorf("%s kernel: %w", kind, err)
	}
	return kind, nil
}

func (d *Dispatcher) signature(kind Kind, req *Request, dm dims) Signature {
	sig := Signature{
		Kind:      kind,
		Precision: req.Query.DType(),
		Grouped:   dm.Group > 1,
	}
	if kind != MatMul && kind != MultiQuery {
		return sig
	}
	sig.M, sig.N, sig.K = d.queryBlock, dm.Sv, dm.S
	sig.LDA = req.Query.Stride(2)
	sig.LDC = req.Output.Stride(2)
	sig.BTransposed = req.Key.Stride(3) != 1 && req.Key.Stride(2) == 1
	if sig.BTransposed {
		sig.LDB = req.Key.Stride(3)
	} else {
		sig.LDB = req.Key.Stride(2)
	}
	return sig
}

func (d *Dispatcher) build(sig Signature) (Kernel, error) {
	switch sig.Kind {
	case Reference:
		return newReference(d.ex), nil
	case MatMul:
		return newMatMul(sig, d.backend, d.ex), nil
	case MultiQuery:
		return newMultiQuery(sig, d.backend, d.ex), nil
	case SingleToken:
		return newSingleToken(d.ex), nil
	default:
		return nil, fmt.Errorf("%w: unknown kernel %s", errdefs.ErrConfiguration, sig.Kind)
	}
}
