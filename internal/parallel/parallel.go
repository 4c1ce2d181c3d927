// Package parallel provides fork-join execution over independent row ranges.
package parallel

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/born-ml/sdpa/internal/config"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns defaults from the environment.
// Attention rows are heavy, so the minimum chunk is one row unless overridden.
func DefaultConfig() Config {
	n := int(config.NumThreads())
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: int(config.MinChunk()),
	}
}

// Executor runs n independent items split into [start, end) ranges and
// blocks until every range has finished.
type Executor interface {
	Run(n int, fn func(start, end int) error) error
}

// Pool is an Executor bounded to cfg.NumWorkers concurrent goroutines.
type Pool struct {
	cfg Config
}

// NewPool returns a fork-join pool for cfg.
func NewPool(cfg Config) *Pool {
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = 1
	}
	if cfg.MinChunkSize < 1 {
		cfg.MinChunkSize = 1
	}
	return &Pool{cfg: cfg}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int { return p.cfg.NumWorkers }

// Run splits [0, n) into contiguous ranges and runs them concurrently.
// The first error is returned after all ranges finish. A panicking range is
// reported as an error instead of crashing the process.
func (p *Pool) Run(n int, fn func(start, end int) error) error {
	if n <= 0 {
		return nil
	}
	if !p.cfg.Enabled || p.cfg.NumWorkers == 1 || n < 2*p.cfg.MinChunkSize {
		return guarded(fn, 0, n)
	}

	chunkSize := max((n+p.cfg.NumWorkers-1)/p.cfg.NumWorkers, p.cfg.MinChunkSize)

	var g errgroup.Group
	g.SetLimit(p.cfg.NumWorkers)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			return guarded(fn, start, end)
		})
	}
	return g.Wait()
}

func guarded(fn func(start, end int) error, start, end int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parallel: range [%d, %d) panicked: %v", start, end, r)
		}
	}()
	return fn(start, end)
}

// Sequential is an Executor that runs everything on the calling goroutine.
type Sequential struct{}

// Run implements Executor.
func (Sequential) Run(n int, fn func(start, end int) error) error {
	if n <= 0 {
		return nil
	}
	return guarded(fn, 0, n)
}

// For2D runs f over the d0*d1 grid on ex.
func For2D(ex Executor, d0, d1 int, f func(i, j int) error) error {
	return ex.Run(d0*d1, func(s, e int) error {
		for k := s; k < e; k++ {
			if err := f(k/d1, k%d1); err != nil {
				return err
			}
		}
		return nil
	})
}

// For3D runs f over the d0*d1*d2 grid on ex.
func For3D(ex Executor, d0, d1, d2 int, f func(i, j, k int) error) error {
	return ex.Run(d0*d1*d2, func(s, e int) error {
		for n := s; n < e; n++ {
			if err := f(n/(d1*d2), (n/d2)%d1, n%d2); err != nil {
				return err
			}
		}
		return nil
	})
}
