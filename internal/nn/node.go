package nn

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/born-ml/sdpa/internal/config"
	"github.com/born-ml/sdpa/internal/errdefs"
	"github.com/born-ml/sdpa/internal/kernel"
	"github.com/born-ml/sdpa/internal/kvcache"
	"github.com/born-ml/sdpa/internal/mask"
	"github.com/born-ml/sdpa/internal/tensor"
)

// Config configures an attention node.
type Config struct {
	// Causal restricts query m to keys at or before its own position.
	Causal bool

	// OutputTransposed lays the output out as [batch, qLen, heads, size]
	// instead of [batch, heads, qLen, size].
	OutputTransposed bool

	// FuseWithCache keeps a KV cache inside the node. Each call appends
	// its keys and values and attends over the whole history.
	FuseWithCache bool

	// CausalMaskZeroMasked selects the causal mask polarity: when set a
	// zero entry is masked, otherwise a nonzero entry is masked.
	CausalMaskZeroMasked bool

	// Scale multiplies the dot products when a request sets none. Zero
	// selects 1/sqrt(headSize).
	Scale float32

	// KVCachePrecision is "f32", "f16" or "u8". Empty reads
	// BORN_KV_CACHE_TYPE.
	KVCachePrecision string

	// Permute maps the query, key and value input axes to
	// [batch, heads, length, size]. Nil means the inputs are already in
	// that order; {0, 2, 1, 3} accepts [batch, length, heads, size].
	Permute []int
}

func validScale(scale float32) error {
	if scale < 0 || math.IsNaN(float64(scale)) || math.IsInf(float64(scale), 0) {
		return fmt.Errorf("%w: scale %v", errdefs.ErrConfiguration, scale)
	}
	return nil
}

func (c Config) validate() error {
	if err := validScale(c.Scale); err != nil {
		return err
	}
	switch c.KVCachePrecision {
	case "", "f32", "f16", "u8":
	default:
		return fmt.Errorf("%w: kv cache precision %q", errdefs.ErrConfiguration, c.KVCachePrecision)
	}
	if c.Permute != nil {
		sorted := slices.Sorted(slices.Values(c.Permute))
		if !slices.Equal(sorted, []int{0, 1, 2, 3}) {
			return fmt.Errorf("%w: permute %v is not a permutation of 4 axes", errdefs.ErrConfiguration, c.Permute)
		}
	}
	return nil
}

// Request is one attention call. Query, Key and Value are rank 4; the
// masks are optional. Output receives the result.
type Request struct {
	Query tensor.View
	Key   tensor.View
	Value tensor.View

	// Mask is an additive float mask or a Uint8 keep mask of rank 2
	// [batch, kvLen], 3 [batch, qLen, kvLen] or 4.
	Mask tensor.View

	// Alibi is an additive positional bias of rank 2 to 4.
	Alibi tensor.View

	// CausalMask is a Uint8 mask of rank 2 to 4, interpreted per
	// Config.CausalMaskZeroMasked.
	CausalMask tensor.View

	// BeamIdx reorders the cached history before the append: logical row b
	// continues the history of row BeamIdx[b]. Nil keeps the order.
	BeamIdx []int32

	// Scale overrides Config.Scale for this call. Zero keeps the default.
	Scale float32

	Output tensor.View
}

// Node is a scaled dot-product attention operator. A Node is not safe for
// concurrent use; its cache has a single writer.
type Node struct {
	session *Session
	cfg     Config
	log     *slog.Logger
	cache   *kvcache.Cache
	last    kernel.Kind
}

// NewNode creates an attention node bound to the session.
func (s *Session) NewNode(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.KVCachePrecision == "" {
		cfg.KVCachePrecision = config.KvCacheType()
	}
	cfg.Permute = slices.Clone(cfg.Permute)
	return &Node{session: s, cfg: cfg, log: s.log}, nil
}

// Cache returns the node's KV cache, or nil before the first fused call.
func (n *Node) Cache() *kvcache.Cache { return n.cache }

// LastKernel returns the kernel that ran the most recent call.
func (n *Node) LastKernel() kernel.Kind { return n.last }

// Reset discards the cached history. The next call seeds the history from
// seedK and seedV, [batch, kvHeads, length, size] views of the full
// external history, then appends its own keys and values. Zero views seed
// an empty history.
func (n *Node) Reset(seedK, seedV tensor.View) error {
	c, err := n.kvCache()
	if err != nil {
		return err
	}
	c.Reset(seedK, seedV)
	return nil
}

func (n *Node) kvCache() (*kvcache.Cache, error) {
	if n.cache != nil {
		return n.cache, nil
	}
	precision := kvcache.ResolvePrecision(n.cfg.KVCachePrecision, n.session.Capabilities(), n.log)
	c, err := kvcache.New(precision, n.log)
	if err != nil {
		return nil, err
	}
	n.cache = c
	return c, nil
}

// Forward runs attention for req and writes the result into req.Output.
//
// The context is checked once on entry; a call that has started runs to
// completion.
func (n *Node) Forward(ctx context.Context, req *Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q, k, v := req.Query, req.Key, req.Value
	if n.cfg.Permute != nil {
		for _, x := range []*tensor.View{&q, &k, &v} {
			if x.Rank() != 4 {
				return fmt.Errorf("%w: inputs must be rank 4, got %d", errdefs.ErrConfiguration, x.Rank())
			}
			*x = x.Permute(n.cfg.Permute...)
		}
	}
	out, err := n.output(req.Output)
	if err != nil {
		return err
	}
	if err := validateInputs(q, k, v, out); err != nil {
		return err
	}

	policy := &mask.Policy{Causal: n.cfg.Causal, ZeroMasked: n.cfg.CausalMaskZeroMasked}
	for _, m := range []struct {
		dst *tensor.View
		src tensor.View
	}{
		{&policy.Mask, req.Mask},
		{&policy.Alibi, req.Alibi},
		{&policy.CausalMask, req.CausalMask},
	} {
		if *m.dst, err = mask.ToRank4(m.src); err != nil {
			return err
		}
	}

	if err := validScale(req.Scale); err != nil {
		return err
	}
	scale := cmp.Or(req.Scale, n.cfg.Scale, float32(1/math.Sqrt(float64(q.Dim(3)))))

	var c *kvcache.Cache
	kvLen := k.Dim(2)
	if n.cfg.FuseWithCache {
		if c, err = n.kvCache(); err != nil {
			return err
		}
		kvLen += c.HistoryLen()
	}
	// Every check that can reject the call runs before Append.
	if err := kernel.CheckPrecision(q.DType()); err != nil {
		return err
	}
	if err := policy.Validate(q.Dim(0), q.Dim(1), q.Dim(2), kvLen); err != nil {
		return err
	}

	kreq := &kernel.Request{
		Query:  q,
		Key:    k,
		Value:  v,
		Mask:   policy,
		Output: out,
		Scale:  scale,
	}

	cacheLen := 0
	if c != nil {
		if err := c.Append(k, v, req.BeamIdx); err != nil {
			return err
		}
		cacheLen = c.Len() - k.Dim(2)
		if cacheLen > 0 {
			kreq.Key, kreq.Value = tensor.View{}, tensor.View{}
			kreq.KeyHistory, kreq.ValueHistory = c.Keys(), c.Values()
		}
	}

	kind, err := n.session.dispatcher.Dispatch(kreq, cacheLen, n.cfg.FuseWithCache)
	if err != nil {
		return err
	}
	n.last = kind
	if n.log.Enabled(ctx, slog.LevelDebug) {
		n.log.Debug("attention", "kernel", kind, "q_len", q.Dim(2), "kv_len", cacheLen+k.Dim(2))
	}
	return nil
}

// output returns the canonical [batch, heads, qLen, size] view of dst.
func (n *Node) output(dst tensor.View) (tensor.View, error) {
	if dst.Rank() != 4 {
		return tensor.View{}, fmt.Errorf("%w: output rank %d, want 4", errdefs.ErrConfiguration, dst.Rank())
	}
	if n.cfg.OutputTransposed {
		return dst.Permute(0, 2, 1, 3), nil
	}
	return dst, nil
}

func validateInputs(q, k, v, out tensor.View) error {
	for _, x := range []struct {
		name string
		v    tensor.View
	}{{"query", q}, {"key", k}, {"value", v}} {
		if x.v.Rank() != 4 {
			return fmt.Errorf("%w: %s rank %d, want 4", errdefs.ErrConfiguration, x.name, x.v.Rank())
		}
	}
	if q.Dim(0) != k.Dim(0) || k.Dim(0) != v.Dim(0) {
		return fmt.Errorf("%w: batch sizes %d, %d, %d disagree", errdefs.ErrConfiguration,
			q.Dim(0), k.Dim(0), v.Dim(0))
	}
	if k.Dim(1) != v.Dim(1) || k.Dim(2) != v.Dim(2) {
		return fmt.Errorf("%w: key %v and value %v disagree", errdefs.ErrConfiguration, k.Shape(), v.Shape())
	}
	if k.Dim(1) == 0 || q.Dim(1)%k.Dim(1) != 0 {
		return fmt.Errorf("%w: %d query heads are not a multiple of %d key/value heads",
			errdefs.ErrConfiguration, q.Dim(1), k.Dim(1))
	}
	if q.Dim(3) != k.Dim(3) {
		return fmt.Errorf("%w: query head size %d, key head size %d", errdefs.ErrConfiguration,
			q.Dim(3), k.Dim(3))
	}
	want := tensor.Shape{q.Dim(0), q.Dim(1), q.Dim(2), v.Dim(3)}
	if !out.Shape().Equal(want) {
		return fmt.Errorf("%w: output shape %v, want %v", errdefs.ErrConfiguration, out.Shape(), want)
	}
	return nil
}
