package localcache_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/okian/speedsync/internal/client/localcache"
	"github.com/okian/speedsync/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func rec(bib string, ms int64) model.FinishRecord {
	return model.FinishRecord{RunnerNumber: bib, FinishTime: ms, RecordedAt: "2024-05-01T10:00:00.000Z"}
}

func TestBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) localcache.KV{
		"memory": func(*testing.T) localcache.KV { return localcache.NewMemoryKV() },
		"file": func(t *testing.T) localcache.KV {
			kv, err := localcache.OpenFileKV(filepath.Join(t.TempDir(), "cache"))
			if err != nil {
				t.Fatal(err)
			}
			return kv
		},
		"leveldb": func(t *testing.T) localcache.KV {
			kv, err := localcache.OpenLevelKV(filepath.Join(t.TempDir(), "ldb"))
			if err != nil {
				t.Fatal(err)
			}
			return kv
		},
	}

	for name, open := range backends {
		kv := open(t)
		Convey("Given the "+name+" backend", t, func() {
			_, err := kv.Get("missing")
			So(errors.Is(err, localcache.ErrNotFound), ShouldBeTrue)

			So(kv.Put("k", []byte("v1")), ShouldBeNil)
			got, err := kv.Get("k")
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "v1")

			So(kv.Put("k", []byte("v2")), ShouldBeNil)
			got, _ = kv.Get("k")
			So(string(got), ShouldEqual, "v2")

			So(kv.Delete("k"), ShouldBeNil)
			So(kv.Delete("k"), ShouldBeNil)
			_, err = kv.Get("k")
			So(errors.Is(err, localcache.ErrNotFound), ShouldBeTrue)
		})
		_ = kv.Close()
	}
}

func TestFileKVKeys(t *testing.T) {
	Convey("Given a file backend", t, func() {
		kv, err := localcache.OpenFileKV(t.TempDir())
		So(err, ShouldBeNil)

		Convey("Then keys that escape the directory are rejected", func() {
			So(errors.Is(kv.Put("../x", nil), localcache.ErrInvalidKey), ShouldBeTrue)
			_, err := kv.Get("")
			So(errors.Is(err, localcache.ErrInvalidKey), ShouldBeTrue)
		})
	})
}

func TestCache(t *testing.T) {
	Convey("Given an empty cache", t, func() {
		ctx := context.Background()
		clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
		cache := localcache.New(localcache.NewMemoryKV(), localcache.WithClock(clock))

		pending, err := cache.Pending(ctx)
		So(err, ShouldBeNil)
		So(pending, ShouldBeEmpty)

		Convey("When records are appended", func() {
			n, err := cache.Append(ctx, rec("1", 100))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			clock.Advance(time.Second)
			n, _ = cache.Append(ctx, rec("1", 100)) // no client-side dedupe
			So(n, ShouldEqual, 2)

			Convey("Then pending and the race log hold them in order", func() {
				pending, _ := cache.Pending(ctx)
				So(pending, ShouldResemble, []model.FinishRecord{rec("1", 100), rec("1", 100)})

				raceLog, _ := cache.RaceLog(ctx)
				So(raceLog, ShouldHaveLength, 2)

				updated, _ := cache.LastUpdated(ctx)
				So(updated, ShouldEqual, "2024-05-01T10:00:01.000Z")
			})

			Convey("Then clearing the pushed snapshot empties pending but keeps the race log", func() {
				pushed, _ := cache.Pending(ctx)
				left, err := cache.ClearPushed(ctx, pushed)
				So(err, ShouldBeNil)
				So(left, ShouldEqual, 0)

				pending, _ := cache.Pending(ctx)
				So(pending, ShouldBeEmpty)
				raceLog, _ := cache.RaceLog(ctx)
				So(raceLog, ShouldHaveLength, 2)
			})

			Convey("Then records appended after the snapshot survive the clear", func() {
				pushed, _ := cache.Pending(ctx)
				_, _ = cache.Append(ctx, rec("2", 200))

				left, err := cache.ClearPushed(ctx, pushed)
				So(err, ShouldBeNil)
				So(left, ShouldEqual, 1)
				pending, _ := cache.Pending(ctx)
				So(pending, ShouldResemble, []model.FinishRecord{rec("2", 200)})
			})

			Convey("Then a clear after the list was replaced drops only pushed records", func() {
				pushed, _ := cache.Pending(ctx)
				So(cache.ClearPending(ctx), ShouldBeNil)
				_, _ = cache.Append(ctx, rec("3", 300))
				_, _ = cache.Append(ctx, rec("1", 100))

				left, err := cache.ClearPushed(ctx, pushed)
				So(err, ShouldBeNil)
				So(left, ShouldEqual, 1)
				pending, _ := cache.Pending(ctx)
				So(pending, ShouldResemble, []model.FinishRecord{rec("3", 300)})
			})

			Convey("Then ClearAll empties both lists", func() {
				So(cache.ClearAll(ctx), ShouldBeNil)
				pending, _ := cache.Pending(ctx)
				So(pending, ShouldBeEmpty)
				raceLog, _ := cache.RaceLog(ctx)
				So(raceLog, ShouldBeEmpty)
			})
		})

		Convey("When the client id is requested twice", func() {
			a, err := cache.ClientID(ctx)
			So(err, ShouldBeNil)
			b, _ := cache.ClientID(ctx)

			Convey("Then it is generated once and survives ClearAll", func() {
				So(a, ShouldHaveLength, 36)
				So(b, ShouldEqual, a)
				So(cache.ClearAll(ctx), ShouldBeNil)
				c, _ := cache.ClientID(ctx)
				So(c, ShouldEqual, a)
			})
		})

		Convey("When appends race each other", func() {
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _ = cache.Append(ctx, rec("r", int64(i)))
				}(i)
			}
			wg.Wait()

			Convey("Then none are lost", func() {
				pending, _ := cache.Pending(ctx)
				So(pending, ShouldHaveLength, 50)
			})
		})
	})
}

func TestCachePersistence(t *testing.T) {
	Convey("Given a file backed cache with pending records", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		kv, err := localcache.OpenFileKV(dir)
		So(err, ShouldBeNil)
		cache := localcache.New(kv)
		_, err = cache.Append(ctx, rec("42", 65000))
		So(err, ShouldBeNil)

		Convey("When the cache is reopened", func() {
			kv2, _ := localcache.OpenFileKV(dir)
			reopened := localcache.New(kv2)

			Convey("Then the records are still pending", func() {
				pending, err := reopened.Pending(ctx)
				So(err, ShouldBeNil)
				So(pending, ShouldResemble, []model.FinishRecord{rec("42", 65000)})
			})
		})

		Convey("When the envelope on disk is corrupt", func() {
			So(os.WriteFile(filepath.Join(dir, localcache.KeyPending+".json"), []byte("{"), 0o600), ShouldBeNil)

			Convey("Then reads fail with ErrCorrupt", func() {
				_, err := cache.Pending(ctx)
				So(errors.Is(err, localcache.ErrCorrupt), ShouldBeTrue)
			})

			Convey("Then the next append moves it aside and still keeps the record", func() {
				clock := clockwork.NewFakeClockAt(time.UnixMilli(1_777_000_000_000))
				recovered := localcache.New(kv, localcache.WithClock(clock))

				n, err := recovered.Append(ctx, rec("7", 1000))
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)

				pending, err := recovered.Pending(ctx)
				So(err, ShouldBeNil)
				So(pending, ShouldResemble, []model.FinishRecord{rec("7", 1000)})

				raw, err := kv.Get(localcache.KeyPending + ".corrupt-1777000000000")
				So(err, ShouldBeNil)
				So(string(raw), ShouldEqual, "{")

				raceLog, err := recovered.RaceLog(ctx)
				So(err, ShouldBeNil)
				So(raceLog, ShouldResemble, []model.FinishRecord{rec("42", 65000), rec("7", 1000)})
			})
		})

		Convey("When the race log on disk is corrupt", func() {
			So(os.WriteFile(filepath.Join(dir, localcache.KeyRaceLog+".json"), []byte("[{"), 0o600), ShouldBeNil)

			Convey("Then an append starts a fresh race log and keeps the pending list", func() {
				n, err := cache.Append(ctx, rec("7", 1000))
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)

				raceLog, err := cache.RaceLog(ctx)
				So(err, ShouldBeNil)
				So(raceLog, ShouldResemble, []model.FinishRecord{rec("7", 1000)})
			})
		})
	})
}
