package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/speedsync/internal/adapters/http/api"
	"github.com/okian/speedsync/internal/adapters/repository"
	"github.com/okian/speedsync/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// failingStore fails every operation like a broken database.
type failingStore struct{}

var errDisk = errors.New("disk I/O error")

func (failingStore) InsertBatch(context.Context, []model.FinishRecord) (int, error) {
	return 0, errDisk
}
func (failingStore) ListAll(context.Context) ([]model.FinishRecord, error) { return nil, errDisk }
func (failingStore) DeleteByID(context.Context, int64) (int64, error)      { return 0, errDisk }
func (failingStore) DeleteAll(context.Context) error                       { return errDisk }
func (failingStore) Stats(context.Context) (repository.Stats, error) {
	return repository.Stats{}, errDisk
}

func newMux(t *testing.T, deps api.Dependencies, opts ...api.Option) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	api.NewServer(deps, opts...).Register(context.Background(), mux)
	return mux
}

func newStore(t *testing.T) *repository.SQLStore {
	t.Helper()
	s, err := repository.Open(context.Background(), repository.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(api.ClientIDHeader, "test-client")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux := newMux(t, newStore(t))

		Convey("Then health answers with JSON", func() {
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["status"], ShouldEqual, "ok")
		})

		Convey("Then metrics are exposed from the custom registry", func() {
			_ = do(mux, http.MethodGet, "/healthz", "")
			w := do(mux, http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "speedsync_http_requests_total")
		})

		Convey("Then unsupported methods are rejected", func() {
			w := do(mux, http.MethodPut, "/results", "[]")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestResultsPush(t *testing.T) {
	Convey("Given an empty result store", t, func() {
		mux := newMux(t, newStore(t), api.WithMaxBatchSize(3))

		Convey("When a valid batch is pushed", func() {
			w := do(mux, http.MethodPost, "/results",
				`[{"runner_number":"42","finish_time":65000,"recorded_at":"2024-05-01T10:01:05.000Z"},{"runner_number":7,"finish_time":61000}]`)

			Convey("Then every record is inserted", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body["success"], ShouldEqual, true)
				So(body["inserted"], ShouldEqual, 2)
			})

			Convey("Then GET /results lists them by finish time", func() {
				w := do(mux, http.MethodGet, "/results", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var rows []model.FinishRecord
				So(json.Unmarshal(w.Body.Bytes(), &rows), ShouldBeNil)
				So(rows, ShouldHaveLength, 2)
				So(rows[0].RunnerNumber, ShouldEqual, "7")
				So(rows[1].RunnerNumber, ShouldEqual, "42")
				So(rows[1].RecordedAt, ShouldEqual, "2024-05-01T10:01:05.000Z")
				So(rows[0].RecordedAt, ShouldNotBeEmpty)
			})

			Convey("Then pushing it again inserts nothing and still succeeds", func() {
				w := do(mux, http.MethodPost, "/results",
					`[{"runner_number":"42","finish_time":65000},{"runner_number":"7","finish_time":61000}]`)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["inserted"], ShouldEqual, 0)

				list := do(mux, http.MethodGet, "/results", "")
				var rows []model.FinishRecord
				_ = json.Unmarshal(list.Body.Bytes(), &rows)
				So(rows, ShouldHaveLength, 2)
			})
		})

		Convey("When an empty array is pushed", func() {
			w := do(mux, http.MethodPost, "/results", `[]`)

			Convey("Then nothing is inserted", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["inserted"], ShouldEqual, 0)
			})
		})

		Convey("When the body is not an array", func() {
			w := do(mux, http.MethodPost, "/results", `{"runner_number":"1","finish_time":1}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				body := decode(w)
				So(body["success"], ShouldEqual, false)
				So(body["code"], ShouldEqual, "bad_request")
				So(body["error"], ShouldEqual, "Expected array of results")
			})
		})

		Convey("When items are malformed", func() {
			cases := map[string]string{
				`[{"finish_time":1}]`:                         "missing runner_number",
				`[{"runner_number":"1"}]`:                     "missing finish_time",
				`[{"runner_number":"1","finish_time":-5}]`:    "must not be negative",
				`[{"runner_number":"1","finish_time":"soon"}]`: "malformed results",
				`[{"runner_number":"1","finish_time":1}`:      "malformed results",
			}
			for body, want := range cases {
				w := do(mux, http.MethodPost, "/results", body)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode(w)["error"], ShouldContainSubstring, want)
			}

			Convey("Then nothing was stored", func() {
				w := do(mux, http.MethodGet, "/results", "")
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
			})
		})

		Convey("When a batch exceeds the limit", func() {
			var items []string
			for i := 0; i < 4; i++ {
				items = append(items, fmt.Sprintf(`{"runner_number":"%d","finish_time":%d}`, i, i))
			}
			w := do(mux, http.MethodPost, "/results", "["+strings.Join(items, ",")+"]")

			Convey("Then it is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode(w)["error"], ShouldContainSubstring, "exceeds the limit")
			})
		})
	})
}

func TestResultsAdmin(t *testing.T) {
	Convey("Given a store with two results", t, func() {
		mux := newMux(t, newStore(t))
		_ = do(mux, http.MethodPost, "/results",
			`[{"runner_number":"1","finish_time":2000,"recorded_at":"2024-05-01T10:00:00.000Z"},{"runner_number":"2","finish_time":1000,"recorded_at":"2024-05-01T10:05:00.000Z"}]`)

		Convey("Then the admin view uses camelCase fields", func() {
			w := do(mux, http.MethodGet, "/api/admin/results", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["success"], ShouldEqual, true)
			data := body["data"].([]any)
			So(data, ShouldHaveLength, 2)
			first := data[0].(map[string]any)
			So(first["runnerNumber"], ShouldEqual, "2")
			So(first["finishTime"], ShouldEqual, 1000)
			So(first["recordedAt"], ShouldEqual, "2024-05-01T10:05:00.000Z")
			So(first["id"], ShouldNotBeNil)
		})

		Convey("Then sync status reports count and latest capture", func() {
			w := do(mux, http.MethodGet, "/api/debug/sync-status", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["recordCount"], ShouldEqual, 2)
			So(body["lastRecord"], ShouldEqual, "2024-05-01T10:05:00.000Z")
		})

		Convey("When a result is deleted by id", func() {
			list := decode(do(mux, http.MethodGet, "/api/admin/results", ""))
			id := list["data"].([]any)[0].(map[string]any)["id"].(float64)
			w := do(mux, http.MethodDelete, fmt.Sprintf("/api/results/%d", int64(id)), "")

			Convey("Then one row is deleted", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["deleted"], ShouldEqual, 1)
			})

			Convey("Then deleting it again is not found", func() {
				w := do(mux, http.MethodDelete, fmt.Sprintf("/api/results/%d", int64(id)), "")
				So(w.Code, ShouldEqual, http.StatusNotFound)
				body := decode(w)
				So(body["error"], ShouldEqual, "No result found with that ID")
				So(body["code"], ShouldEqual, "not_found")
			})
		})

		Convey("When the id is not an integer", func() {
			w := do(mux, http.MethodDelete, "/api/results/abc", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When all results are cleared", func() {
			w := do(mux, http.MethodDelete, "/results", "")

			Convey("Then the store is empty", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["message"], ShouldEqual, "All server results cleared")

				status := decode(do(mux, http.MethodGet, "/api/debug/sync-status", ""))
				So(status["recordCount"], ShouldEqual, 0)
				So(status["lastRecord"], ShouldBeNil)
			})
		})
	})
}

func TestStorageErrors(t *testing.T) {
	Convey("Given a store that always fails", t, func() {
		mux := newMux(t, failingStore{})

		requests := [][3]string{
			{http.MethodGet, "/results", ""},
			{http.MethodPost, "/results", `[{"runner_number":"1","finish_time":1}]`},
			{http.MethodDelete, "/results", ""},
			{http.MethodGet, "/api/admin/results", ""},
			{http.MethodDelete, "/api/results/1", ""},
			{http.MethodGet, "/api/debug/sync-status", ""},
		}

		Convey("Then every route answers 500 without leaking the cause", func() {
			for _, r := range requests {
				w := do(mux, r[0], r[1], r[2])
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				body := decode(w)
				So(body["error"], ShouldEqual, "Database error")
				So(body["code"], ShouldEqual, "internal_error")
				So(w.Body.String(), ShouldNotContainSubstring, "disk")
			}
		})
	})
}
