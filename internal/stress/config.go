// Package stress drives concurrent submissions against a running podium
// server and checks the resulting board for consistency.
package stress

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Config holds configuration for a stress run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Submissions int           // Number of POSTs to send
	Players     int           // Number of distinct keys submissions are spread over
	Capacity    int           // K configured on the server
	Workers     int           // Number of concurrent workers
	Rate        float64       // Submissions per second across all workers, 0 for unlimited
	Timeout     time.Duration // HTTP request timeout
	Seed        uint64        // Generator seed, 0 picks one
	OutputFile  string        // Optional JSON dump of the generated submissions
	Verbose     bool          // Log every failed request
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.New("base url must not be empty")
	case c.Submissions < 1:
		return errors.Newf("submissions must be >= 1, got %d", c.Submissions)
	case c.Players < 1:
		return errors.Newf("players must be >= 1, got %d", c.Players)
	case c.Capacity < 1:
		return errors.Newf("capacity must be >= 1, got %d", c.Capacity)
	case c.Workers < 1:
		return errors.Newf("workers must be >= 1, got %d", c.Workers)
	case c.Rate < 0:
		return errors.Newf("rate must be >= 0, got %g", c.Rate)
	case c.Timeout <= 0:
		return errors.Newf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// Submission is one generated POST body.
type Submission struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}

// Entry is a leaderboard row as served by GET /leaderboard.
type Entry struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}

// Outcome classifies one POST by its response.
type Outcome int

const (
	// Accepted is a 201.
	Accepted Outcome = iota
	// Rejected is a 403.
	Rejected
	// Invalid is a 400. The generator never produces one.
	Invalid
	// Failed is any other status or a transport error. The write may or
	// may not have happened.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Invalid:
		return "invalid"
	default:
		return "failed"
	}
}

// Stats holds run statistics.
type Stats struct {
	Submitted int
	Accepted  int
	Rejected  int
	Invalid   int
	Failed    int
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

func (s *Stats) add(o Outcome) {
	s.Submitted++
	switch o {
	case Accepted:
		s.Accepted++
	case Rejected:
		s.Rejected++
	case Invalid:
		s.Invalid++
	default:
		s.Failed++
	}
}
