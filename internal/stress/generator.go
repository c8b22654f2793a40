package stress

import (
	"fmt"
	"math/rand/v2"
)

// Salt bounds. Every score in a run shares one fractional part, so scores
// from different runs against the same server rarely tie.
const (
	saltMin   = 0.125
	saltRange = 0.75
	saltSteps = 1 << 16
)

// generateSubmissions returns n submissions over players keys prefixed with
// run. Scores are pairwise distinct, which makes the final board a pure
// function of the per-key bests regardless of interleaving.
func generateSubmissions(n, players int, run string, seed uint64) []Submission {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	salt := saltMin + saltRange*float64(rng.IntN(saltSteps))/saltSteps

	keys := make([]string, players)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-p%05d", run, i)
	}

	subs := make([]Submission, n)
	for i, rank := range rng.Perm(n) {
		subs[i] = Submission{
			Key:   keys[rng.IntN(players)],
			Score: float64(rank+1) + salt,
		}
	}
	return subs
}
