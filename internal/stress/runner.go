package stress

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/okian/podium/pkg/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Latency histogram bounds in microseconds.
const (
	minLatencyMicros = 1
	maxLatencyMicros = int64(time.Minute / time.Microsecond)
	latencySigFigs   = 3
)

// ErrViolations is returned by Run when any consistency check failed.
var ErrViolations = errors.New("leaderboard consistency violated")

// Report is everything a run measured.
type Report struct {
	Run          string
	Stats        Stats
	Latency      *hdrhistogram.Histogram
	Initial      []Entry
	Final        []Entry
	Verification Verification
}

// Run executes a full stress run: health check, snapshot, concurrent
// submissions, final read and verification. The report is written to out.
// A non-nil report is returned whenever submissions were sent.
func Run(ctx context.Context, cfg *Config, out io.Writer) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Named("stress")

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rep := &Report{Run: uuid.NewString()[:8]}

	log.Info(ctx, "starting stress run",
		logger.String("run", rep.Run),
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("submissions", cfg.Submissions),
		logger.Int("players", cfg.Players),
		logger.Int("capacity", cfg.Capacity),
		logger.Int("workers", cfg.Workers),
		logger.Float64("rate", cfg.Rate),
		logger.Uint64("seed", seed),
	)

	client := NewClient(cfg.BaseURL, cfg.Timeout)
	if err := client.Health(ctx); err != nil {
		return nil, errors.Wrap(err, "service health check failed")
	}

	initial, err := client.Leaderboard(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "initial leaderboard")
	}
	rep.Initial = initial

	subs := generateSubmissions(cfg.Submissions, cfg.Players, rep.Run, seed)
	if cfg.OutputFile != "" {
		if err := saveSubmissions(cfg.OutputFile, subs); err != nil {
			log.Warn(ctx, "failed to save submissions", logger.Error(err))
		}
	}

	rep.Stats.StartTime = time.Now()
	results, hist, err := submitAll(ctx, cfg, client, subs, log)
	rep.Stats.EndTime = time.Now()
	rep.Stats.Duration = rep.Stats.EndTime.Sub(rep.Stats.StartTime)
	rep.Latency = hist
	for _, r := range results {
		rep.Stats.add(r.outcome)
	}
	if err != nil {
		return rep, errors.Wrap(err, "submission failed")
	}

	final, err := client.Leaderboard(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "final leaderboard")
	}
	rep.Final = final
	rep.Verification = verify(initial, final, results, cfg.Capacity)

	if err := WriteReport(out, rep); err != nil {
		log.Warn(ctx, "failed to write report", logger.Error(err))
	}

	if n := len(rep.Verification.Violations); n > 0 {
		for _, v := range rep.Verification.Violations {
			log.Error(ctx, "violation", logger.String("check", v.Check), logger.String("detail", v.Detail))
		}
		return rep, errors.Wrapf(ErrViolations, "%d checks failed", n)
	}
	log.Info(ctx, "stress run passed",
		logger.Bool("exact", rep.Verification.Exact),
		logger.String("duration", rep.Stats.Duration.String()),
	)
	return rep, nil
}

// submitAll fans subs out over cfg.Workers goroutines. Results keep the
// order of subs. Entries for submissions never sent stay Failed.
func submitAll(ctx context.Context, cfg *Config, client *Client, subs []Submission, log logger.Logger) ([]result, *hdrhistogram.Histogram, error) {
	results := make([]result, len(subs))
	for i, s := range subs {
		results[i] = result{sub: s, outcome: Failed}
	}

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, cfg.Workers)

	hists := make([]*hdrhistogram.Histogram, cfg.Workers)
	indexes := make(chan int, cfg.Workers*2)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(indexes)
		for i := range subs {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case indexes <- i:
			}
		}
		return nil
	})

	for w := 0; w < cfg.Workers; w++ {
		hist := hdrhistogram.New(minLatencyMicros, maxLatencyMicros, latencySigFigs)
		hists[w] = hist
		g.Go(func() error {
			for i := range indexes {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				start := time.Now()
				outcome, board, err := client.Submit(gctx, subs[i])
				elapsed := time.Since(start).Microseconds()
				_ = hist.RecordValue(min(max(elapsed, minLatencyMicros), maxLatencyMicros))

				results[i].outcome = outcome
				results[i].board = board
				if err != nil && cfg.Verbose {
					log.Warn(gctx, "submission failed",
						logger.String("key", subs[i].Key),
						logger.Float64("score", subs[i].Score),
						logger.Error(err))
				}
			}
			return nil
		})
	}
	err := g.Wait()

	merged := hdrhistogram.New(minLatencyMicros, maxLatencyMicros, latencySigFigs)
	for _, h := range hists {
		merged.Merge(h)
	}
	return results, merged, err
}

func saveSubmissions(path string, subs []Submission) error {
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal submissions")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}
