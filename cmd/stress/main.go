package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/podium/internal/stress"
	"github.com/okian/podium/pkg/logger"
	"github.com/spf13/cobra"
)

// Default configuration constants.
const (
	defaultSubmissions = 10000
	defaultPlayers     = 500
	defaultCapacity    = 3
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func newRootCmd() *cobra.Command {
	cfg := &stress.Config{}
	var (
		logLevel string
		deadline time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "concurrent submission load and consistency check for a podium server",
		Long: `stress posts generated scores to /leaderboard from many workers, then checks
every 201 snapshot and the final board. When every submission got a definite
answer the final board must equal the top-K of per-key bests.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(logger.WithOutput(cmd.ErrOrStderr())); err != nil {
				return err
			}
			if err := logger.SetLevelString(logLevel); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), deadline)
			defer cancel()

			_, err := stress.Run(ctx, cfg, cmd.OutOrStdout())
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the service")
	f.IntVarP(&cfg.Submissions, "submissions", "n", defaultSubmissions, "number of submissions to send")
	f.IntVar(&cfg.Players, "players", defaultPlayers, "number of distinct keys")
	f.IntVarP(&cfg.Capacity, "capacity", "k", defaultCapacity, "K configured on the server")
	f.IntVarP(&cfg.Workers, "concurrency", "c", runtime.NumCPU()*defaultWorkers, "number of concurrent workers")
	f.Float64Var(&cfg.Rate, "rate", 0, "submissions per second across all workers (0, unlimited)")
	f.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	f.Uint64Var(&cfg.Seed, "seed", 0, "generator seed (0, time based)")
	f.StringVar(&cfg.OutputFile, "output", "", "write generated submissions to this JSON file")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "log every failed request")
	f.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	f.DurationVar(&deadline, "deadline", defaultTestTimeout, "overall run deadline")

	return cmd
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command and returns the process exit code.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
