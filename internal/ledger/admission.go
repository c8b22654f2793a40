package ledger

import (
	"github.com/okian/podium/internal/domain/model"
)

// Outcome is the result of one admission decision.
type Outcome int

const (
	// Rejected means the score does not beat the lowest retained score.
	Rejected Outcome = iota
	// Inserted means a new key entered the board.
	Inserted
	// Updated means an existing key improved its score.
	Updated
	// Unchanged means the key already holds an equal or better score.
	Unchanged
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	default:
		return "rejected"
	}
}

// Accepted reports whether the submission is accepted. Unchanged is an
// accepted no-op.
func (o Outcome) Accepted() bool { return o != Rejected }

// writes reports whether the outcome mutates the store.
func (o Outcome) writes() bool { return o == Inserted || o == Updated }

// Decision is what Admit wants applied to the store.
type Decision struct {
	Outcome Outcome
	// Evict lists keys to delete, in ranking order. Only set when Outcome writes.
	Evict []string
}

// Admit decides how (key, score) changes a board that currently holds current.
// It does not modify current.
//
//   - An existing key keeps its personal best: an equal or lower score is
//     Unchanged, a higher one is Updated.
//   - A new key is Inserted while the board has room. On a full board it must
//     strictly beat the lowest retained score; ties favour the incumbent.
//   - After a write, everything ranked below capacity is evicted. On a full
//     board that is the last entry in ranking order, plus any overflow left
//     behind by a smaller capacity.
func Admit(current []model.Entry, key string, score float64, capacity int) Decision {
	ranked := make([]model.Entry, len(current))
	copy(ranked, current)
	model.SortEntries(ranked)

	idx := indexOf(ranked, key)
	if idx >= 0 && ranked[idx].Score >= score {
		return Decision{Outcome: Unchanged}
	}
	if idx < 0 && len(ranked) >= capacity && score <= ranked[capacity-1].Score {
		return Decision{Outcome: Rejected}
	}

	outcome := Inserted
	next := ranked
	if idx >= 0 {
		outcome = Updated
		next = append(ranked[:idx:idx], ranked[idx+1:]...)
	}
	next = append(next, model.Entry{Key: key, Score: score})
	model.SortEntries(next)

	// An improved score can still fall short of the window when the board
	// carries overflow from a larger capacity.
	if indexOf(next, key) >= capacity {
		return Decision{Outcome: Rejected}
	}

	d := Decision{Outcome: outcome}
	for _, e := range next[min(capacity, len(next)):] {
		d.Evict = append(d.Evict, e.Key)
	}
	return d
}

func indexOf(entries []model.Entry, key string) int {
	for i, e := range entries {
		if e.Key == key {
			return i
		}
	}
	return -1
}
