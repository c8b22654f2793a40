package stress

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/okian/podium/internal/adapters/http/api"
	service "github.com/okian/podium/internal/app"
	"github.com/okian/podium/internal/retry"
	"github.com/okian/podium/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

func init() {
	if err := logger.Init(logger.WithOutput(&bytes.Buffer{})); err != nil {
		panic(err)
	}
}

func newPodium(t *testing.T, capacity int) *httptest.Server {
	t.Helper()
	ro := retry.DefaultOptions()
	ro.MaxAttempts = 50
	ro.InitialBackoff = 100 * time.Microsecond
	ro.MaxBackoff = 2 * time.Millisecond
	svc := service.New(
		service.WithStoreDSN("memory://"),
		service.WithCapacity(capacity),
		service.WithRetryOptions(ro),
		service.WithLogger(logger.Nop()),
	)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)

	srv := api.NewServer(svc, svc)
	mux := http.NewServeMux()
	srv.Register(context.Background(), mux)
	ts := httptest.NewServer(srv.Handler(mux))
	t.Cleanup(ts.Close)
	return ts
}

func testConfig(url string) *Config {
	return &Config{
		BaseURL:     url,
		Submissions: 400,
		Players:     40,
		Capacity:    5,
		Workers:     8,
		Timeout:     5 * time.Second,
		Seed:        42,
	}
}

func TestGenerateSubmissions(t *testing.T) {
	subs := generateSubmissions(1000, 25, "run", 7)
	require.Len(t, subs, 1000)

	scores := map[float64]struct{}{}
	keys := map[string]struct{}{}
	for _, s := range subs {
		scores[s.Score] = struct{}{}
		keys[s.Key] = struct{}{}
		require.Greater(t, s.Score, 1.0)
	}
	require.Len(t, scores, 1000, "scores must be pairwise distinct")
	require.LessOrEqual(t, len(keys), 25)

	require.Equal(t, subs, generateSubmissions(1000, 25, "run", 7))
	require.NotEqual(t, subs, generateSubmissions(1000, 25, "run", 8))
}

func TestVerify(t *testing.T) {
	Convey("Given submissions with definite outcomes", t, func() {
		results := []result{
			{sub: Submission{"a", 10}, outcome: Accepted, board: []Entry{{"a", 10}}},
			{sub: Submission{"b", 20}, outcome: Accepted, board: []Entry{{"b", 20}, {"a", 10}}},
			{sub: Submission{"c", 5}, outcome: Rejected},
			{sub: Submission{"a", 30}, outcome: Accepted, board: []Entry{{"a", 30}, {"b", 20}}},
		}

		Convey("The matching board passes exactly", func() {
			v := verify(nil, []Entry{{"a", 30}, {"b", 20}}, results, 2)
			So(v.Violations, ShouldBeEmpty)
			So(v.Exact, ShouldBeTrue)
		})

		Convey("A board holding a stale score fails", func() {
			v := verify(nil, []Entry{{"b", 20}, {"a", 10}}, results, 2)
			So(v.Violations, ShouldNotBeEmpty)
		})

		Convey("Starting entries count as prior submissions", func() {
			v := verify([]Entry{{"z", 25}}, []Entry{{"a", 30}, {"z", 25}}, results, 2)
			So(v.Violations, ShouldBeEmpty)
		})

		Convey("An unknown outcome skips the exact comparison", func() {
			withFailure := append(append([]result{}, results...), result{sub: Submission{"d", 99}, outcome: Failed})
			v := verify(nil, []Entry{{"d", 99}, {"a", 30}}, withFailure, 2)
			So(v.Violations, ShouldBeEmpty)
			So(v.Exact, ShouldBeFalse)
			So(v.SkipReason, ShouldNotBeEmpty)
		})
	})

	Convey("Snapshot checks catch malformed boards", t, func() {
		So(checkBoard("b", []Entry{{"a", 1}, {"b", 2}}, 3), ShouldHaveLength, 1)
		So(checkBoard("b", []Entry{{"a", 2}, {"a", 1}}, 3), ShouldHaveLength, 1)
		So(checkBoard("b", []Entry{{"b", 2}, {"a", 2}}, 3), ShouldHaveLength, 1)
		So(checkBoard("b", []Entry{{"a", 3}, {"b", 2}, {"c", 1}}, 2), ShouldHaveLength, 1)
		So(checkBoard("b", []Entry{{"a", 2}, {"b", 2}, {"c", 1}}, 3), ShouldBeEmpty)

		missing := result{sub: Submission{"x", 5}, outcome: Accepted, board: []Entry{{"a", 9}}}
		So(checkAccepted(missing, 3), ShouldHaveLength, 1)

		lower := result{sub: Submission{"x", 5}, outcome: Accepted, board: []Entry{{"x", 4}}}
		So(checkAccepted(lower, 3), ShouldHaveLength, 1)
	})
}

func TestRunAgainstServer(t *testing.T) {
	Convey("Given a podium server with capacity 5", t, func() {
		ts := newPodium(t, 5)
		ctx := context.Background()

		Convey("A concurrent run ends in the expected board", func() {
			var out bytes.Buffer
			rep, err := Run(ctx, testConfig(ts.URL), &out)
			So(err, ShouldBeNil)
			So(rep.Stats.Submitted, ShouldEqual, 400)
			So(rep.Stats.Failed, ShouldEqual, 0)
			So(rep.Stats.Accepted+rep.Stats.Rejected, ShouldEqual, 400)
			So(rep.Verification.Exact, ShouldBeTrue)
			So(rep.Final, ShouldHaveLength, 5)
			So(rep.Latency.TotalCount(), ShouldEqual, 400)
			So(out.String(), ShouldContainSubstring, "PASS")

			Convey("A second run over the same board still verifies", func() {
				cfg := testConfig(ts.URL)
				cfg.Seed = 43
				cfg.Rate = 5000
				rep2, err := Run(ctx, cfg, &bytes.Buffer{})
				So(err, ShouldBeNil)
				So(rep2.Initial, ShouldResemble, rep.Final)
				So(rep2.Verification.Exact, ShouldBeTrue)
			})
		})

		Convey("A wrong capacity is reported as violations", func() {
			cfg := testConfig(ts.URL)
			cfg.Capacity = 3
			rep, err := Run(ctx, cfg, &bytes.Buffer{})
			So(errors.Is(err, ErrViolations), ShouldBeTrue)
			So(rep.Verification.Violations, ShouldNotBeEmpty)
		})
	})

	Convey("Given a server that fails every write", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		mux.HandleFunc("/leaderboard", func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				http.Error(w, `{"error":"store unavailable"}`, http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte("[]"))
		})
		ts := httptest.NewServer(mux)
		defer ts.Close()

		cfg := testConfig(ts.URL)
		cfg.Submissions = 20
		rep, err := Run(context.Background(), cfg, &bytes.Buffer{})
		So(err, ShouldBeNil)
		So(rep.Stats.Failed, ShouldEqual, 20)
		So(rep.Verification.Exact, ShouldBeFalse)
	})

	Convey("Given a server that is down", t, func() {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close()

		_, err := Run(context.Background(), testConfig(ts.URL), &bytes.Buffer{})
		So(err, ShouldNotBeNil)
	})

	Convey("Invalid configuration is refused", t, func() {
		cfg := testConfig("http://localhost")
		cfg.Workers = 0
		_, err := Run(context.Background(), cfg, &bytes.Buffer{})
		So(err, ShouldNotBeNil)
	})
}
