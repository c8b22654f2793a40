package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/okian/podium/internal/adapters/repository"
	service "github.com/okian/podium/internal/app"
	"github.com/okian/podium/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["capacity"], ShouldEqual, 3)
			So(svc.Backend(), ShouldBeEmpty)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithStoreDSN("memory://"),
			service.WithCapacity(5),
			service.WithPebbleSync(false),
		)

		Convey("Then it should be created successfully", func() {
			So(svc, ShouldNotBeNil)
			So(svc.GetStats()["capacity"], ShouldEqual, 5)
		})
	})
}

func TestService_Start(t *testing.T) {
	Convey("Given a service without a store", t, func() {
		svc := service.New()

		Convey("When starting the service", func() {
			err := svc.Start(context.Background())

			Convey("Then it should fail with ErrNoStore", func() {
				So(errors.Is(err, service.ErrNoStore), ShouldBeTrue)
			})
		})
	})

	Convey("Given a service with an unsupported DSN", t, func() {
		svc := service.New(service.WithStoreDSN("redis://localhost"))

		Convey("Then Start reports the DSN error", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, repository.ErrUnsupportedDSN), ShouldBeTrue)
		})
	})

	Convey("Given a new service", t, func() {
		svc := service.New(service.WithStoreDSN("memory://"))
		// Ensure service is stopped after test
		defer svc.Stop()

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := svc.Start(ctx)

			Convey("Then it should start successfully", func() {
				So(err, ShouldBeNil)
				So(svc.Backend(), ShouldEqual, "memory")
				So(svc.Ping(ctx), ShouldBeNil)
			})

			Convey("And it should be marked as started", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["entries"], ShouldEqual, 0)
			})

			Convey("And starting again is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})
		})
	})
}

func TestService_Stop(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(service.WithStoreDSN("memory://"))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := svc.Start(ctx)
		So(err, ShouldBeNil)

		Convey("When stopping the service", func() {
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, false)
			})

			Convey("And calls fail with ErrNotStarted", func() {
				_, err := svc.Submit(ctx, "A", 1)
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				_, err = svc.TopK(ctx)
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(svc.Ping(ctx), service.ErrNotStarted), ShouldBeTrue)
			})

			Convey("And stopping twice is safe", func() {
				svc.Stop()
			})
		})
	})
}

func TestService_Leaderboard(t *testing.T) {
	Convey("Given a started service with capacity 3", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithStoreDSN("memory://"))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When submitting scores", func() {
			for _, s := range []struct {
				key   string
				score float64
			}{{"A", 10}, {"B", 20}, {"C", 5}, {"D", 7}} {
				_, err := svc.Submit(ctx, s.key, s.score)
				So(err, ShouldBeNil)
			}

			Convey("Then TopK returns the best three", func() {
				entries, err := svc.TopK(ctx)
				So(err, ShouldBeNil)
				So(len(entries), ShouldEqual, 3)
				So(entries[0].Key, ShouldEqual, "B")
				So(entries[1].Key, ShouldEqual, "A")
				So(entries[2].Key, ShouldEqual, "D")
			})

			Convey("Then stats count the retained entries", func() {
				So(svc.GetStats()["entries"], ShouldEqual, 3)
			})
		})
	})
}
