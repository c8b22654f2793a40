package stress

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
)

var latencyQuantiles = []float64{50, 90, 99, 99.9, 100}

// WriteReport renders summary, latency and final board tables.
func WriteReport(w io.Writer, rep *Report) error {
	s := rep.Stats
	var throughput float64
	if s.Duration > 0 {
		throughput = float64(s.Submitted) / s.Duration.Seconds()
	}

	summary := tablewriter.NewWriter(w)
	summary.SetHeader([]string{"Run", "Submitted", "Accepted", "Rejected", "Invalid", "Failed", "Duration", "Ops/s"})
	summary.Append([]string{
		rep.Run,
		strconv.Itoa(s.Submitted),
		strconv.Itoa(s.Accepted),
		strconv.Itoa(s.Rejected),
		strconv.Itoa(s.Invalid),
		strconv.Itoa(s.Failed),
		s.Duration.Round(time.Millisecond).String(),
		fmt.Sprintf("%.1f", throughput),
	})
	summary.Render()

	if rep.Latency != nil && rep.Latency.TotalCount() > 0 {
		lat := tablewriter.NewWriter(w)
		header := []string{"Latency"}
		row := []string{"POST"}
		for _, q := range latencyQuantiles {
			header = append(header, quantileLabel(q))
			row = append(row, micros(rep.Latency.ValueAtQuantile(q)))
		}
		lat.SetHeader(append(header, "Mean"))
		lat.Append(append(row, micros(int64(rep.Latency.Mean()))))
		lat.Render()
	}

	board := tablewriter.NewWriter(w)
	board.SetHeader([]string{"Rank", "Key", "Score"})
	for i, e := range rep.Final {
		board.Append([]string{strconv.Itoa(i + 1), e.Key, strconv.FormatFloat(e.Score, 'g', -1, 64)})
	}
	board.Render()

	v := rep.Verification
	switch {
	case len(v.Violations) > 0:
		_, err := fmt.Fprintf(w, "FAIL: %d violations\n", len(v.Violations))
		return err
	case v.Exact:
		_, err := fmt.Fprintln(w, "PASS: final board matches the top-K of per-key bests")
		return err
	default:
		_, err := fmt.Fprintf(w, "PASS (structural only: %s)\n", v.SkipReason)
		return err
	}
}

func quantileLabel(q float64) string {
	if q == 100 {
		return "Max"
	}
	return "p" + strconv.FormatFloat(q, 'f', -1, 64)
}

func micros(v int64) string {
	return (time.Duration(v) * time.Microsecond).String()
}
