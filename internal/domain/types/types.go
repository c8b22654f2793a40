// Package types contains the wire shapes shared by the HTTP layer and its clients.
package types

import "github.com/okian/podium/internal/domain/model"

// Entry is one leaderboard row as served over HTTP.
type Entry struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}

// FromModel converts ranked domain entries to their wire form, preserving order.
func FromModel(entries []model.Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = Entry{Key: e.Key, Score: e.Score}
	}
	return out
}

// SubmitRequest is the POST /leaderboard body. Pointers distinguish missing from zero.
type SubmitRequest struct {
	Key   *string  `json:"key"`
	Score *float64 `json:"score"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
