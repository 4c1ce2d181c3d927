package main

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/born-ml/sdpa/internal/config"
	"github.com/born-ml/sdpa/nn"
	"github.com/born-ml/sdpa/tensor"
)

type checkOptions struct {
	batch     int
	heads     int
	kvHeads   int
	headSize  int
	tokens    int
	prompt    int
	kvCache   string
	seed      uint64
	tolerance float64
}

type checkResult struct {
	FullKernel   nn.Kernel
	PromptKernel nn.Kernel
	DecodeKernel nn.Kernel
	MaxDiff      float64
	Kernels      int
}

func newCheckCmd() *cobra.Command {
	opts := checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare one multi-token call against prompt plus incremental decode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := runCheck(cmd, &opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "full=%s prompt=%s decode=%s kernels=%d max_abs_diff=%.3g\n",
				res.FullKernel, res.PromptKernel, res.DecodeKernel, res.Kernels, res.MaxDiff)
			if res.MaxDiff > opts.tolerance {
				return fmt.Errorf("max abs difference %.3g exceeds tolerance %.3g", res.MaxDiff, opts.tolerance)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.batch, "batch", 1, "Batch size")
	cmd.Flags().IntVar(&opts.heads, "heads", 8, "Query heads")
	cmd.Flags().IntVar(&opts.kvHeads, "kv-heads", 8, "Key/value heads (must divide --heads)")
	cmd.Flags().IntVar(&opts.headSize, "head-size", 64, "Features per head")
	cmd.Flags().IntVar(&opts.tokens, "tokens", 16, "Total sequence length")
	cmd.Flags().IntVar(&opts.prompt, "prompt", 0, "Prompt length before single-token decode (default: tokens/2)")
	cmd.Flags().StringVar(&opts.kvCache, "kv-cache", "", "KV cache precision: f32, f16 or u8 (default: $BORN_KV_CACHE_TYPE)")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "Random seed for the inputs")
	cmd.Flags().Float64Var(&opts.tolerance, "tolerance", 0, "Maximum absolute difference (default: by cache precision)")
	return cmd
}

func (o *checkOptions) validate() error {
	if o.batch < 1 || o.heads < 1 || o.kvHeads < 1 || o.headSize < 1 || o.tokens < 2 {
		return fmt.Errorf("%w: sizes must be positive and --tokens at least 2", nn.ErrConfiguration)
	}
	if o.prompt == 0 {
		o.prompt = o.tokens / 2
	}
	if o.prompt < 1 || o.prompt >= o.tokens {
		return fmt.Errorf("%w: --prompt must be in [1, %d)", nn.ErrConfiguration, o.tokens)
	}
	if o.tolerance == 0 {
		precision := o.kvCache
		if precision == "" {
			precision = config.KvCacheType()
		}
		switch precision {
		case "u8":
			o.tolerance = 5e-2
		case "f16":
			o.tolerance = 5e-3
		default:
			o.tolerance = 1e-4
		}
	}
	return nil
}

func randomView(r *rand.Rand, shape tensor.Shape) tensor.View {
	data := make([]float32, shape.NumElements())
	for i := range data {
		data[i] = r.Float32()*2 - 1
	}
	return tensor.Must(tensor.FromFloat32(data, shape))
}

func runCheck(cmd *cobra.Command, opts *checkOptions) (checkResult, error) {
	var res checkResult
	if err := opts.validate(); err != nil {
		return res, err
	}
	ctx := cmd.Context()
	r := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))

	q := randomView(r, tensor.Shape{opts.batch, opts.heads, opts.tokens, opts.headSize})
	k := randomView(r, tensor.Shape{opts.batch, opts.kvHeads, opts.tokens, opts.headSize})
	v := randomView(r, tensor.Shape{opts.batch, opts.kvHeads, opts.tokens, opts.headSize})
	outShape := tensor.Shape{opts.batch, opts.heads, opts.tokens, opts.headSize}

	s := nn.NewSession()
	defer s.Close()

	full, err := s.NewNode(nn.Config{Causal: true})
	if err != nil {
		return res, err
	}
	want := tensor.Alloc(tensor.Float32, outShape)
	if err := full.Forward(ctx, &nn.Request{Query: q, Key: k, Value: v, Output: want}); err != nil {
		return res, fmt.Errorf("full call: %w", err)
	}
	res.FullKernel = full.LastKernel()

	inc, err := s.NewNode(nn.Config{Causal: true, FuseWithCache: true, KVCachePrecision: opts.kvCache})
	if err != nil {
		return res, err
	}
	got := tensor.Alloc(tensor.Float32, outShape)
	step := func(from, to int) error {
		return inc.Forward(ctx, &nn.Request{
			Query:  q.Slice(2, from, to),
			Key:    k.Slice(2, from, to),
			Value:  v.Slice(2, from, to),
			Output: got.Slice(2, from, to),
		})
	}
	if err := step(0, opts.prompt); err != nil {
		return res, fmt.Errorf("prompt: %w", err)
	}
	res.PromptKernel = inc.LastKernel()
	for p := opts.prompt; p < opts.tokens; p++ {
		if err := step(p, p+1); err != nil {
			return res, fmt.Errorf("decode step %d: %w", p, err)
		}
	}
	res.DecodeKernel = inc.LastKernel()
	res.Kernels = s.Kernels()

	a, b := want.ToFloat32(), got.ToFloat32()
	for i := range a {
		res.MaxDiff = math.Max(res.MaxDiff, math.Abs(float64(a[i]-b[i])))
	}
	return res, nil
}
