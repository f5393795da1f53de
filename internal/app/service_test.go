package service_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/speedsync/internal/adapters/repository"
	service "github.com/okian/speedsync/internal/app"
	"github.com/okian/speedsync/internal/domain/model"
	"github.com/okian/speedsync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func newStarted(t *testing.T, opts ...service.Option) *service.Service {
	t.Helper()
	opts = append([]service.Option{
		service.WithDatabase(repository.DriverSQLite, ":memory:"),
		service.WithLogger(logger.Nop()),
	}, opts...)
	svc := service.New(opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := service.New(service.WithLogger(logger.Nop()))

		Convey("Then store calls fail with ErrNotStarted", func() {
			_, err := svc.ListAll(context.Background())
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.DeleteAll(context.Background()), ShouldEqual, service.ErrNotStarted)
		})

		Convey("And stopping it is a no-op", func() {
			So(svc.Stop, ShouldNotPanic)
		})
	})

	Convey("Given a started service", t, func() {
		svc := newStarted(t)
		ctx := context.Background()

		Convey("When a batch is stored twice", func() {
			batch := []model.FinishRecord{{RunnerNumber: "42", FinishTime: 65000}}
			first, err := svc.InsertBatch(ctx, batch)
			So(err, ShouldBeNil)
			second, err := svc.InsertBatch(ctx, batch)
			So(err, ShouldBeNil)

			Convey("Then only the first insert counts", func() {
				So(first, ShouldEqual, 1)
				So(second, ShouldEqual, 0)
				st, err := svc.Stats(ctx)
				So(err, ShouldBeNil)
				So(st.RecordCount, ShouldEqual, 1)
			})
		})

		Convey("When it is stopped", func() {
			svc.Stop()

			Convey("Then the store is released", func() {
				_, err := svc.InsertBatch(ctx, nil)
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})

		Convey("When started twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
		})
	})

	Convey("Given a database that cannot be opened", t, func() {
		svc := service.New(service.WithDatabase("mysql", "x"), service.WithLogger(logger.Nop()))

		Convey("Then Start reports the driver error", func() {
			err := svc.Start(context.Background())
			So(errors.Is(err, repository.ErrUnsupportedDriver), ShouldBeTrue)
		})
	})
}

func TestService_Handler(t *testing.T) {
	Convey("Given the server handler", t, func() {
		svc := newStarted(t, service.WithCORSOrigins([]string{"http://timer.local"}))
		srv := httptest.NewServer(svc.Handler(context.Background()))
		defer srv.Close()

		Convey("When a browser sends a preflight from an allowed origin", func() {
			req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/results", nil)
			req.Header.Set("Origin", "http://timer.local")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "Content-Type")
			resp, err := http.DefaultClient.Do(req)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the origin is allowed", func() {
				So(resp.Header.Get("Access-Control-Allow-Origin"), ShouldEqual, "http://timer.local")
			})
		})

		Convey("When the origin is not allowed", func() {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/results", nil)
			req.Header.Set("Origin", "http://elsewhere.local")
			resp, err := http.DefaultClient.Do(req)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then no CORS header is sent", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(resp.Header.Get("Access-Control-Allow-Origin"), ShouldBeEmpty)
			})
		})

		Convey("Then the docs, health and metrics routes are mounted", func() {
			for _, path := range []string{"/healthz", "/metrics", "/openapi.yaml", "/api-docs", "/api/debug/sync-status"} {
				resp, err := http.Get(srv.URL + path)
				So(err, ShouldBeNil)
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				_ = resp.Body.Close()
			}
		})
	})
}
