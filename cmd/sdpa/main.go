// Package main provides the sdpa CLI: environment inspection and a
// self-check of the attention kernels on this host.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/born-ml/sdpa/backend/cpu"
	"github.com/born-ml/sdpa/internal/config"
)

const version = "v0.0.1-dev"

func appendEnvDocs(cmd *cobra.Command, envs []config.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Born SDPA %s\n", version)
		},
	}
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show configuration and detected CPU features",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			vars := config.AsMap()
			for _, k := range slices.Sorted(maps.Keys(vars)) {
				fmt.Fprintf(w, "%-20s %v\n", k, vars[k].Value)
			}

			backend := cpu.New()
			caps := backend.Capabilities()
			fmt.Fprintf(w, "\nbackend %s\n", backend.Name())
			fmt.Fprintf(w, "arch %s avx2=%t avx512f=%t fma=%t asimd=%t asimdhp=%t blas=%t half=%t\n",
				caps.Arch, caps.AVX2, caps.AVX512F, caps.FMA, caps.ASIMD, caps.ASIMDHP, caps.BLAS, caps.HalfPrecision())
		},
	}
}

// NewCLI builds the root command.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "sdpa",
		Short:         "Scaled dot-product attention kernels",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel()})))
		},
	}

	envVars := config.AsMap()
	checkCmd := newCheckCmd()
	appendEnvDocs(checkCmd, []config.EnvVar{
		envVars["BORN_NUM_THREADS"],
		envVars["BORN_QUERY_BLOCK"],
		envVars["BORN_DISABLE_BLAS"],
		envVars["BORN_KV_CACHE_TYPE"],
		envVars["BORN_DEBUG"],
	})

	rootCmd.AddCommand(newVersionCmd(), newEnvCmd(), checkCmd)
	return rootCmd
}

func main() {
	if err := NewCLI().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
