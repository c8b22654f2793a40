package stress

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Client talks to the leaderboard endpoints.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient creates a client with the given per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Health returns nil when /healthz answers 200.
func (c *Client) Health(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return errors.Newf("healthz returned %d", status)
	}
	return nil
}

// Leaderboard fetches the current board.
func (c *Client) Leaderboard(ctx context.Context) ([]Entry, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/leaderboard", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.Newf("GET /leaderboard returned %d: %s", status, body)
	}
	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.Wrap(err, "decode leaderboard")
	}
	return entries, nil
}

// Submit posts one submission. For a 201 the returned entries are the board
// right after the write.
func (c *Client) Submit(ctx context.Context, s Submission) (Outcome, []Entry, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return Failed, nil, errors.Wrap(err, "marshal submission")
	}
	status, body, err := c.do(ctx, http.MethodPost, "/leaderboard", payload)
	if err != nil {
		return Failed, nil, err
	}
	switch status {
	case http.StatusCreated:
		var entries []Entry
		if err := json.Unmarshal(body, &entries); err != nil {
			return Failed, nil, errors.Wrap(err, "decode submit response")
		}
		return Accepted, entries, nil
	case http.StatusForbidden:
		return Rejected, nil, nil
	case http.StatusBadRequest:
		return Invalid, nil, errors.Newf("400: %s", body)
	default:
		return Failed, nil, errors.Newf("POST /leaderboard returned %d: %s", status, body)
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, errors.Wrap(err, "read response body")
	}
	return resp.StatusCode, data, nil
}
