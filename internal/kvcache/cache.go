// Package kvcache maintains the key/value history of one sequence across
// successive attention calls, with beam-search reindexing and optional
// reduced-precision storage.
package kvcache

import (
	"fmt"
	"log/slog"

	"github.com/born-ml/sdpa/internal/backend/cpu"
	"github.com/born-ml/sdpa/internal/errdefs"
	"github.com/born-ml/sdpa/internal/metrics"
	"github.com/born-ml/sdpa/internal/tensor"
)

// Cache holds the key and value States of one sequence. They are always
// updated together and share length and batch.
//
// A Cache has a single writer: Append must not run concurrently with any
// other call on the same Cache.
//
// Example:
//
//	cache, _ := kvcache.New(tensor.Float32, nil)
//	_ = cache.Append(prefillK, prefillV, nil) // [B, Hk, L, S]
//	for step := 0; step < n; step++ {
//	    _ = cache.Append(k1, v1, beamIdx)    // [B, Hk, 1, S]
//	}
type Cache struct {
	k, v *State
	log  *slog.Logger
}

// New creates an empty cache storing rows in precision.
// Supported precisions are Float32, Float16 and Uint8.
func New(precision tensor.DataType, log *slog.Logger) (*Cache, error) {
	switch precision {
	case tensor.Float32, tensor.Float16, tensor.Uint8:
	default:
		return nil, fmt.Errorf("%w: kv cache precision %s", errdefs.ErrPrecisionUnsupported, precision)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		k:   newState("key", precision),
		v:   newState("value", precision),
		log: log,
	}, nil
}

// ResolvePrecision maps a cache type hint ("f32", "f16", "u8") to a storage
// precision. Half precision needs hardware half arithmetic, otherwise the
// cache stays in full precision.
func ResolvePrecision(hint string, caps cpu.Capabilities, log *slog.Logger) tensor.DataType {
	switch hint {
	case "u8":
		return tensor.Uint8
	case "f16":
		if caps.HalfPrecision() {
			return tensor.Float16
		}
		if log != nil {
			log.Warn("half precision kv cache not supported on this cpu, using f32", "arch", caps.Arch)
		}
		return tensor.Float32
	default:
		return tensor.Float32
	}
}

// Keys returns the key history accessor.
func (c *Cache) Keys() Reader { return Reader{c.k} }

// Values returns the value history accessor.
func (c *Cache) Values() Reader { return Reader{c.v} }

// Len returns the number of cached positions.
func (c *Cache) Len() int { return c.k.length }

// HistoryLen returns the number of positions the next Append attends to
// before its own: the seed length when a reset is pending, Len otherwise.
func (c *Cache) HistoryLen() int {
	if c.k.reset {
		return seedLen(c.k)
	}
	return c.k.length
}

// Precision returns the storage precision.
func (c *Cache) Precision() tensor.DataType { return c.k.precision }

// Reset marks both states for re-seeding from an external history.
// Zero views seed an empty history.
func (c *Cache) Reset(seedK, seedV tensor.View) {
	c.k.MarkReset(seedK)
	c.v.MarkReset(seedV)
}

// MarkReset exposes the per-state reset signal for hosts that deliver key
// and value resets separately. A call that sees only one of them marked
// fails with ErrCacheStateInconsistency.
func (c *Cache) MarkReset(key bool, seed tensor.View) {
	if key {
		c.k.MarkReset(seed)
		return
	}
	c.v.MarkReset(seed)
}

func (c *Cache) checkLockstep() error {
	k, v := c.k, c.v
	if k.reset != v.reset {
		return fmt.Errorf("%w: reset flag key=%t value=%t", errdefs.ErrCacheStateInconsistency, k.reset, v.reset)
	}
	if k.length != v.length || k.batch() != v.batch() {
		return fmt.Errorf("%w: key length=%d batch=%d, value length=%d batch=%d",
			errdefs.ErrCacheStateInconsistency, k.length, k.batch(), v.length, v.batch())
	}
	return nil
}

func checkRank4(name string, v tensor.View) error {
	if v.IsNil() || v.Rank() != 4 {
		return fmt.Errorf("%w: %s must be rank 4 [batch, heads, positions, features], got %v",
			errdefs.ErrConfiguration, name, v)
	}
	return nil
}

func (c *Cache) validate(newK, newV tensor.View) error {
	if err := checkRank4("new keys", newK); err != nil {
		return err
	}
	if err := checkRank4("new values", newV); err != nil {
		return err
	}
	if newK.Dim(0) != newV.Dim(0) || newK.Dim(1) != newV.Dim(1) || newK.Dim(2) != newV.Dim(2) {
		return fmt.Errorf("%w: keys %v and values %v disagree on batch, heads or positions",
			errdefs.ErrConfiguration, newK.Shape(), newV.Shape())
	}
	for _, p := range []struct {
		s *State
		x tensor.View
	}{{c.k, newK}, {c.v, newV}} {
		if !p.x.DType().IsFloat() {
			return fmt.Errorf("%w: new %s rows are %s", errdefs.ErrPrecisionUnsupported, p.s.name, p.x.DType())
		}
		if p.s.buf == nil && !p.s.reset {
			continue
		}
		heads, size := p.s.heads, p.s.headSize
		if p.s.reset && !p.s.seed.IsNil() {
			if err := checkRank4(p.s.name+" seed", p.s.seed); err != nil {
				return err
			}
			heads, size = p.s.seed.Dim(1), p.s.seed.Dim(3)
			if p.s.seed.Dim(0) != p.x.Dim(0) {
				return fmt.Errorf("%w: %s seed batch %d differs from incoming batch %d",
					errdefs.ErrConfiguration, p.s.name, p.s.seed.Dim(0), p.x.Dim(0))
			}
		} else if p.s.reset {
			continue
		}
		if p.x.Dim(1) != heads || p.x.Dim(3) != size {
			return fmt.Errorf("%w: new %s rows %v do not match cached heads=%d head size=%d",
				errdefs.ErrConfiguration, p.s.name, p.x.Shape(), heads, size)
		}
	}
	return nil
}

func (c *Cache) validateBeams(batch int, beamIdx []int32) error {
	l0, bState := c.k.length, c.k.batch()
	if c.k.reset || l0 == 0 {
		return nil
	}
	if len(beamIdx) == 0 {
		if batch != bState {
			return fmt.Errorf("%w: batch changed from %d to %d without beam indices",
				errdefs.ErrConfiguration, bState, batch)
		}
		return nil
	}
	if len(beamIdx) != batch {
		return fmt.Errorf("%w: %d beam indices for batch %d", errdefs.ErrConfiguration, len(beamIdx), batch)
	}
	for i, idx := range beamIdx {
		if idx < 0 || int(idx) >= bState {
			return fmt.Errorf("%w: beam_idx[%d]=%d, cache batch is %d", errdefs.ErrInvalidBeamIndex, i, idx, bState)
		}
	}
	return nil
}

// Append adds L1 new positions to the history.
//
// newK and newV are [B, Hk, L1, S] views. beamIdx maps each incoming row to
// the cache row it continues; nil means identity. When B differs from the
// cached batch the storage is rebuilt from beamIdx, otherwise the reorder is
// carried by the beam table alone.
//
// Errors:
//   - ErrConfiguration: bad ranks or shapes, or a batch change without beam indices.
//   - ErrInvalidBeamIndex: an index is outside the cached batch.
//   - ErrCacheStateInconsistency: key and value states diverged.
func (c *Cache) Append(newK, newV tensor.View, beamIdx []int32) error {
	if err := c.checkLockstep(); err != nil {
		return err
	}
	if err := c.validate(newK, newV); err != nil {
		return err
	}

	if c.k.reset {
		if kl, vl := seedLen(c.k), seedLen(c.v); kl != vl {
			return fmt.Errorf("%w: reset history length key=%d value=%d",
				errdefs.ErrCacheStateInconsistency, kl, vl)
		}
		c.seed(c.k, newK.Dim(2))
		c.seed(c.v, newV.Dim(2))
		beamIdx = nil
	}
	if err := c.validateBeams(newK.Dim(0), beamIdx); err != nil {
		return err
	}

	reordered := false
	for _, p := range []struct {
		s *State
		x tensor.View
	}{{c.k, newK}, {c.v, newV}} {
		reordered = c.append(p.s, p.x, beamIdx) || reordered
	}
	if reordered {
		metrics.BeamReorders.Inc()
	}
	return c.checkLockstep()
}

func seedLen(s *State) int {
	if s.seed.IsNil() {
		return 0
	}
	return s.seed.Dim(2)
}

// seed replaces the state with its reset history and clears the flag.
func (c *Cache) seed(s *State, l1 int) {
	seed := s.seed
	s.reset, s.seed = false, tensor.View{}
	metrics.CacheReallocations.WithLabelValues("reset").Inc()

	if seed.IsNil() {
		// Shapes arrive with the next append.
		s.buf, s.length = nil, 0
		c.log.Debug("kv cache reset", "state", s.name, "length", 0)
		return
	}

	batch, length := seed.Dim(0), seed.Dim(2)
	s.heads, s.headSize = seed.Dim(1), seed.Dim(3)
	buf := newBuffer(s.precision, batch, s.heads, 2*(length+l1), s.headSize)
	row := make([]float32, s.headSize)
	for b := 0; b < batch; b++ {
		for h := 0; h < s.heads; h++ {
			for p := 0; p < length; p++ {
				seed.LoadRow(row, b, h, p)
				buf.write(b, h, p, row)
			}
		}
		buf.setIdentity(b, 0, length)
	}
	s.buf, s.length = buf, length
	c.log.Debug("kv cache reset", "state", s.name, "length", length, "batch", batch)
}

// append runs the rebuild or in-place path for one state and writes the new
// rows. It reports whether a non-identity beam reorder happened.
func (c *Cache) append(s *State, x tensor.View, beamIdx []int32) bool {
	batch, heads, l1, size := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	l0 := s.length
	reordered := false

	switch {
	case s.buf == nil || (l0 == 0 && (batch != s.buf.batch || l1 > s.buf.capacity)):
		s.heads, s.headSize = heads, size
		s.buf = newBuffer(s.precision, batch, heads, 2*(l0+l1), size)
	case batch != s.buf.batch:
		c.rebuild(s, batch, l1, beamIdx)
	default:
		if l0+l1 > s.buf.capacity {
			c.grow(s, l0+l1)
		}
		if l0 > 0 && !isIdentity(beamIdx) {
			gatherBeams(s.buf, l0, beamIdx)
			reordered = true
		}
	}

	buf := s.buf
	row := make([]float32, size)
	for b := 0; b < batch; b++ {
		buf.setIdentity(b, l0, l0+l1)
		for h := 0; h < heads; h++ {
			for l := 0; l < l1; l++ {
				x.LoadRow(row, b, h, l)
				buf.write(b, h, l0+l, row)
			}
		}
	}
	s.length = l0 + l1
	return reordered
}

// rebuild reallocates at a new batch size, copying each destination row's
// history from the physical rows its beam index resolves to.
func (c *Cache) rebuild(s *State, batch, l1 int, beamIdx []int32) {
	old, l0 := s.buf, s.length
	buf := newBuffer(s.precision, batch, s.heads, 2*(l0+l1), s.headSize)
	for b := 0; b < batch; b++ {
		src := int(beamIdx[b])
		for p := 0; p < l0; p++ {
			phys := old.beam(src, p)
			for h := 0; h < s.heads; h++ {
				buf.copyRow(old, b, phys, h, p)
			}
		}
		buf.setIdentity(b, 0, l0)
	}
	s.buf = buf
	metrics.CacheReallocations.WithLabelValues("rebuild").Inc()
	c.log.Debug("kv cache rebuilt", "state", s.name, "from_batch", old.batch, "to_batch", batch,
		"length", l0, "capacity", buf.capacity, "bytes", buf.bytes())
}

// grow reallocates to twice the demanded length and copies [0, L0) verbatim,
// including the beam table and quantization parameters.
func (c *Cache) grow(s *State, need int) {
	old, l0 := s.buf, s.length
	buf := newBuffer(s.precision, old.batch, s.heads, 2*need, s.headSize)
	for b := 0; b < old.batch; b++ {
		for h := 0; h < s.heads; h++ {
			for p := 0; p < l0; p++ {
				buf.copyRow(old, b, b, h, p)
			}
		}
		copy(buf.beams[b*buf.capacity:b*buf.capacity+l0], old.beams[b*old.capacity:b*old.capacity+l0])
	}
	s.buf = buf
	metrics.CacheReallocations.WithLabelValues("grow").Inc()
	c.log.Debug("kv cache grown", "state", s.name, "length", l0, "capacity", buf.capacity, "bytes", buf.bytes())
}

func isIdentity(beamIdx []int32) bool {
	for i, idx := range beamIdx {
		if int(idx) != i {
			return false
		}
	}
	return true
}

// gatherBeams permutes the first l0 beam entries of every row: row b takes
// the entries row beamIdx[b] had.
func gatherBeams(buf *buffer, l0 int, beamIdx []int32) {
	tmp := make([]int32, len(beamIdx)*l0)
	for b, src := range beamIdx {
		copy(tmp[b*l0:(b+1)*l0], buf.beams[int(src)*buf.capacity:int(src)*buf.capacity+l0])
	}
	for b := range beamIdx {
		copy(buf.beams[b*buf.capacity:b*buf.capacity+l0], tmp[b*l0:(b+1)*l0])
	}
}
