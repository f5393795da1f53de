package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/speedsync/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.DBDriver, convey.ShouldEqual, config.DriverSQLite)
			convey.So(cfg.DBDSN, convey.ShouldEqual, "race_results.db")
			convey.So(cfg.MaxBatchSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.ServerURL, convey.ShouldEqual, "http://localhost:8080")
			convey.So(cfg.CacheBackend, convey.ShouldEqual, config.CacheBackendFile)
			convey.So(cfg.SyncInterval, convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.ProbeInterval, convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.PushTimeout, convey.ShouldEqual, 0)
			convey.So(cfg.PushRetryMax, convey.ShouldEqual, 0)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_AllowedOrigins(t *testing.T) {
	convey.Convey("Given a comma separated origin list", t, func() {
		cfg := config.New()
		cfg.CORSOrigins = " http://a.test, ,http://b.test "

		convey.Convey("Then blanks are trimmed and empty entries dropped", func() {
			convey.So(cfg.AllowedOrigins(), convey.ShouldResemble, []string{"http://a.test", "http://b.test"})
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with broken fields", t, func() {
		cases := map[string]func(c *config.Config){
			"unknown db_driver":      func(c *config.Config) { c.DBDriver = "mysql" },
			"db_dsn must not":        func(c *config.Config) { c.DBDSN = "" },
			"max_batch_size":         func(c *config.Config) { c.MaxBatchSize = 0 },
			"server_url must not":    func(c *config.Config) { c.ServerURL = "" },
			"unknown cache_backend":  func(c *config.Config) { c.CacheBackend = "s3" },
			"cache_dir must not":     func(c *config.Config) { c.CacheDir = "" },
			"sync_interval must be":  func(c *config.Config) { c.SyncInterval = 0 },
			"probe_interval must be": func(c *config.Config) { c.ProbeInterval = -time.Second },
			"push_timeout must not":  func(c *config.Config) { c.PushTimeout = -time.Second },
			"push_retry_max":         func(c *config.Config) { c.PushRetryMax = -1 },
		}

		for want, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			err := cfg.Validate()

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, want)
		}

		convey.Convey("Then an empty cache_dir is fine for the memory backend", func() {
			cfg := config.New()
			cfg.CacheBackend = config.CacheBackendMemory
			cfg.CacheDir = ""
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
