package stress

import (
	"fmt"
	"sort"
)

// Violation is one failed consistency check.
type Violation struct {
	Check  string
	Detail string
}

func (v Violation) String() string { return v.Check + ": " + v.Detail }

// result pairs a submission with how the server answered it.
type result struct {
	sub     Submission
	outcome Outcome
	board   []Entry
}

func ranksBefore(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Key < b.Key
}

// checkBoard verifies shape: at most k rows, strictly ordered, unique keys.
func checkBoard(where string, board []Entry, k int) []Violation {
	var out []Violation
	if len(board) > k {
		out = append(out, Violation{where, fmt.Sprintf("%d entries exceed capacity %d", len(board), k)})
	}
	seen := make(map[string]struct{}, len(board))
	for i, e := range board {
		if _, dup := seen[e.Key]; dup {
			out = append(out, Violation{where, fmt.Sprintf("key %q appears twice", e.Key)})
		}
		seen[e.Key] = struct{}{}
		if i > 0 && !ranksBefore(board[i-1], e) {
			out = append(out, Violation{where, fmt.Sprintf("entry %d (%s %g) out of order after %s %g",
				i, e.Key, e.Score, board[i-1].Key, board[i-1].Score)})
		}
	}
	return out
}

// checkAccepted verifies a 201 snapshot: well formed, and holding the key at
// no less than the submitted score.
func checkAccepted(r result, k int) []Violation {
	where := fmt.Sprintf("POST %s=%g", r.sub.Key, r.sub.Score)
	out := checkBoard(where, r.board, k)
	for _, e := range r.board {
		if e.Key == r.sub.Key {
			if e.Score < r.sub.Score {
				out = append(out, Violation{where, fmt.Sprintf("snapshot holds %g below the accepted score", e.Score)})
			}
			return out
		}
	}
	return append(out, Violation{where, "accepted key missing from its snapshot"})
}

// expectedBoard is the top k of the per-key bests over the starting board and
// every submission with a definite answer. ok is false when two candidates
// tie on score, in which case the board depends on arrival order.
func expectedBoard(initial []Entry, results []result, k int) (want []Entry, ok bool) {
	best := make(map[string]float64, len(initial)+len(results))
	offer := func(key string, score float64) {
		if cur, seen := best[key]; !seen || score > cur {
			best[key] = score
		}
	}
	for _, e := range initial {
		offer(e.Key, e.Score)
	}
	for _, r := range results {
		if r.outcome == Accepted || r.outcome == Rejected {
			offer(r.sub.Key, r.sub.Score)
		}
	}

	want = make([]Entry, 0, len(best))
	scores := make(map[float64]struct{}, len(best))
	ok = true
	for key, score := range best {
		if _, tie := scores[score]; tie {
			ok = false
		}
		scores[score] = struct{}{}
		want = append(want, Entry{Key: key, Score: score})
	}
	sort.Slice(want, func(i, j int) bool { return ranksBefore(want[i], want[j]) })
	if len(want) > k {
		want = want[:k]
	}
	return want, ok
}

// Verification is the outcome of all checks for one run.
type Verification struct {
	Violations []Violation
	// Exact is true when the final board was compared row by row with the
	// expected board.
	Exact bool
	// SkipReason says why the exact comparison did not run.
	SkipReason string
}

// verify checks every snapshot and the final board.
func verify(initial, final []Entry, results []result, k int) Verification {
	var v Verification
	for _, r := range results {
		if r.outcome == Accepted {
			v.Violations = append(v.Violations, checkAccepted(r, k)...)
		}
	}
	v.Violations = append(v.Violations, checkBoard("final board", final, k)...)

	for _, r := range results {
		if r.outcome == Failed {
			v.SkipReason = "some submissions have no definite outcome"
			return v
		}
	}
	want, ok := expectedBoard(initial, results, k)
	if !ok {
		v.SkipReason = "candidate scores tie"
		return v
	}

	v.Exact = true
	if len(final) != len(want) {
		v.Violations = append(v.Violations, Violation{"final board",
			fmt.Sprintf("%d entries, expected %d", len(final), len(want))})
		return v
	}
	for i := range want {
		if final[i] != want[i] {
			v.Violations = append(v.Violations, Violation{"final board",
				fmt.Sprintf("rank %d is %s %g, expected %s %g", i+1, final[i].Key, final[i].Score, want[i].Key, want[i].Score)})
		}
	}
	return v
}
