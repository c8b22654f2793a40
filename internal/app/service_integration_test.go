package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/okian/podium/internal/adapters/repository"
	service "github.com/okian/podium/internal/app"
	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/sync/errgroup"
)

func TestServiceIntegration(t *testing.T) {
	Convey("Given a service on a pebble store", t, func() {
		ctx := context.Background()
		dsn := "pebble://" + t.TempDir()

		svc := service.New(service.WithStoreDSN(dsn), service.WithPebbleSync(false))
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When many clients submit concurrently", func() {
			var g errgroup.Group
			for w := 0; w < 4; w++ {
				g.Go(func() error {
					for i := 0; i < 25; i++ {
						key := fmt.Sprintf("player-%d", (w*25+i)%10)
						if _, err := svc.Submit(ctx, key, float64(w*1000+i)); err != nil {
							return err
						}
					}
					return nil
				})
			}
			So(g.Wait(), ShouldBeNil)

			entries, err := svc.TopK(ctx)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 3)

			Convey("Then the board survives a restart", func() {
				svc.Stop()

				again := service.New(service.WithStoreDSN(dsn))
				So(again.Start(ctx), ShouldBeNil)
				defer again.Stop()

				reloaded, err := again.TopK(ctx)
				So(err, ShouldBeNil)
				So(reloaded, ShouldResemble, entries)
			})
		})

		Reset(func() { svc.Stop() })
	})

	Convey("Given a service over a caller-owned store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		svc := service.New(service.WithStore(store))
		So(svc.Start(ctx), ShouldBeNil)

		_, err := svc.Submit(ctx, "A", 1)
		So(err, ShouldBeNil)

		Convey("Then Stop leaves the store open", func() {
			svc.Stop()
			err := store.View(ctx, func(r repository.Reader) error {
				n, err := r.Count(ctx)
				So(n, ShouldEqual, 1)
				return err
			})
			So(err, ShouldBeNil)
		})
	})
}
