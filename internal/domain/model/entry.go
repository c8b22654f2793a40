// Package model contains domain models passed between layers.
package model

import "sort"

// Entry is one retained leaderboard row. Key is the natural identity; Version is
// the logical store version at which the row was last written.
type Entry struct {
	Key     string
	Score   float64
	Version uint64
}

// Less reports whether a ranks before b: higher score first, then key ascending.
func Less(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Key < b.Key
}

// SortEntries orders entries in ranking order.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
}

// Truncate returns at most n leading entries. n <= 0 returns entries unchanged.
func Truncate(entries []Entry, n int) []Entry {
	if n > 0 && len(entries) > n {
		return entries[:n]
	}
	return entries
}
