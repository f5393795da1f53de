package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with custom options on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("client"),
				WithMetricPrefix("x_"),
				WithHistogramBuckets([]float64{1, 10}),
				WithRefreshInterval(3*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics carry the namespace, subsystem and prefix", func() {
				So(manager, ShouldNotBeNil)
				So(manager.RefreshInterval(), ShouldEqual, 3*time.Second)

				manager.resultsInserted.Add(2)
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				var names []string
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(strings.Join(names, ","), ShouldContainSubstring, "test_client_x_results_inserted_total")
			})
		})

		Convey("When two managers share a registry", func() {
			registry := prometheus.NewRegistry()
			_ = NewManager(WithPrometheusRegistry(registry))

			Convey("Then registering the same metrics again panics", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics", t, func() {
		Convey("When recording store results", func() {
			before := testutil.ToFloat64(globalManager.resultsInserted)
			RecordResultsInserted(3)
			RecordResultsInserted(0)
			RecordResultsDuplicate(1)

			Convey("Then counters advance by the positive amounts only", func() {
				So(testutil.ToFloat64(globalManager.resultsInserted)-before, ShouldEqual, 3)
			})
		})

		Convey("When updating client gauges", func() {
			UpdatePendingRecords(4)
			UpdateConnectivity(true)

			Convey("Then the gauges hold the latest values", func() {
				So(testutil.ToFloat64(globalManager.pendingRecords), ShouldEqual, 4)
				So(testutil.ToFloat64(globalManager.connectivityOnline), ShouldEqual, 1)

				UpdateConnectivity(false)
				So(testutil.ToFloat64(globalManager.connectivityOnline), ShouldEqual, 0)
			})
		})

		Convey("When recording labelled series", func() {
			Convey("Then nothing panics", func() {
				So(func() {
					RecordSyncAttempt("periodic", "synced")
					RecordRecordsPushed(2)
					RecordPushLatency(12)
					RecordRecordCaptured()
					RecordConnectivityTransition(true)
					RecordConnectivityTransition(false)
					RecordHTTPRequest("results", "GET", "200")
					RecordHTTPRequestDuration("results", "GET", "200", 1.5)
					RecordErrorByEndpoint("results", "POST", "client_error")
					RecordStoreLatency("insert_batch", 2)
					RecordStoreError("list_all")
					RecordResultDeleted()
					UpdateTotalResults(10)
				}, ShouldNotPanic)
			})
		})

		Convey("Then the custom registry is exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
			So(RefreshInterval(), ShouldEqual, defaultRefreshInterval)
		})
	})
}
