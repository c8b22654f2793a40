package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/okian/podium/internal/domain/types"
	"github.com/okian/podium/pkg/logger"
)

// maxBodyBytes caps POST /leaderboard bodies.
const maxBodyBytes = 1 << 20

// LeaderboardHandler handles /leaderboard for every method.
type LeaderboardHandler struct {
	deps       LeaderboardDependencies
	corsOrigin string
	logger     logger.Logger
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, corsOrigin string, l logger.Logger) *LeaderboardHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &LeaderboardHandler{deps: deps, corsOrigin: corsOrigin, logger: l}
}

// HandleLeaderboard dispatches GET, POST and OPTIONS; anything else is 405.
func (h *LeaderboardHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	h.setCORS(w)
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed,
			errors.Mark(errors.Newf("Method %s Not Allowed", r.Method), ErrMethodNotAllowed))
	}
}

func (h *LeaderboardHandler) setCORS(w http.ResponseWriter) {
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", h.corsOrigin)
	hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Content-Type")
}

func (h *LeaderboardHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.TopK(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromModel(entries))
}

var errTrailingData = errors.New("unexpected data after JSON object")

func (h *LeaderboardHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.SubmitRequest
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(&req)
	if err == nil && !errors.Is(dec.Decode(&struct{}{}), io.EOF) {
		err = errTrailingData
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, codeInvalidInput, ErrBodyTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, codeInvalidInput,
			errors.Mark(errors.New("body must be a JSON object {key: string, score: number}"), ErrBadRequest))
		return
	}
	switch {
	case req.Key == nil:
		writeError(w, http.StatusBadRequest, codeInvalidInput, errors.Mark(errors.New("key is required"), ErrBadRequest))
		return
	case req.Score == nil:
		writeError(w, http.StatusBadRequest, codeInvalidInput, errors.Mark(errors.New("score is required"), ErrBadRequest))
		return
	}

	res, err := h.deps.Submit(r.Context(), *req.Key, *req.Score)
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.FromModel(res.Entries))
}

func (h *LeaderboardHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, public := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "leaderboard request failed",
			logger.String("request_id", RequestIDFromContext(r.Context())),
			logger.String("method", r.Method),
			logger.Error(err),
		)
	}
	writeError(w, status, code, public)
}
