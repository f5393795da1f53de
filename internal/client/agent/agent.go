// Package agent assembles the timing client: local cache, push transport,
// connectivity monitor, sync engine and recorder.
package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/okian/speedsync/internal/client/connectivity"
	"github.com/okian/speedsync/internal/client/localcache"
	"github.com/okian/speedsync/internal/client/recorder"
	"github.com/okian/speedsync/internal/client/syncer"
	"github.com/okian/speedsync/internal/client/transport"
	"github.com/okian/speedsync/internal/config"
	"github.com/okian/speedsync/pkg/logger"
)

// Option configures an Agent.
type Option func(*Agent)

// WithClock drives every component from c.
func WithClock(c clockwork.Clock) Option {
	return func(a *Agent) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// WithKV uses kv instead of the configured cache backend. The Agent closes it.
func WithKV(kv localcache.KV) Option {
	return func(a *Agent) {
		a.kv = kv
	}
}

// Agent owns the client components for one timing station.
type Agent struct {
	Cache     *localcache.Cache
	Client    *transport.Client
	Monitor   *connectivity.Monitor
	Engine    *syncer.Engine
	Recorder  *recorder.Recorder
	ClientID  string
	clock     clockwork.Clock
	log       logger.Logger
	kv        localcache.KV
	closeOnce sync.Once
}

// New builds an Agent from cfg. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Agent, error) {
	a := &Agent{
		clock: clockwork.NewRealClock(),
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.kv == nil {
		kv, err := OpenKV(cfg)
		if err != nil {
			return nil, err
		}
		a.kv = kv
	}
	a.Cache = localcache.New(a.kv,
		localcache.WithClock(a.clock),
		localcache.WithLogger(a.log.Named("cache")))

	id, err := a.Cache.ClientID(ctx)
	if err != nil {
		_ = a.kv.Close()
		return nil, fmt.Errorf("client id: %w", err)
	}
	a.ClientID = id

	a.Client, err = transport.New(cfg.ServerURL,
		transport.WithClientID(id),
		transport.WithTimeout(cfg.PushTimeout),
		transport.WithRetryMax(cfg.PushRetryMax),
		transport.WithLogger(a.log.Named("transport")))
	if err != nil {
		_ = a.kv.Close()
		return nil, err
	}

	a.Monitor = connectivity.New(a.Client,
		connectivity.WithClock(a.clock),
		connectivity.WithInterval(cfg.ProbeInterval),
		connectivity.WithLogger(a.log.Named("connectivity")))

	a.Engine = syncer.New(a.Cache, a.Client, a.Monitor,
		syncer.WithClock(a.clock),
		syncer.WithInterval(cfg.SyncInterval),
		syncer.WithLogger(a.log.Named("syncer")))

	a.Recorder = recorder.New(a.Cache, a.Engine, a.Monitor,
		recorder.WithClock(a.clock),
		recorder.WithLogger(a.log.Named("recorder")))

	return a, nil
}

// OpenKV opens the cache backend selected by cfg.
func OpenKV(cfg *config.Config) (localcache.KV, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendMemory:
		return localcache.NewMemoryKV(), nil
	case config.CacheBackendFile:
		kv, err := localcache.OpenFileKV(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case config.CacheBackendLevelDB:
		kv, err := localcache.OpenLevelKV(filepath.Join(cfg.CacheDir, "leveldb"))
		if err != nil {
			return nil, err
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("%w: unknown cache_backend %q", config.ErrInvalidConfig, cfg.CacheBackend)
	}
}

// Run probes connectivity and runs the sync triggers until ctx is done,
// then waits for in-flight pushes.
func (a *Agent) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.Engine.Run(ctx)
	}()
	wg.Wait()
	a.Engine.Wait()
}

// Close waits for triggered pushes and releases the cache.
func (a *Agent) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.Engine.Wait()
		if cerr := a.Cache.Close(); cerr != nil {
			err = fmt.Errorf("close cache: %w", cerr)
		}
	})
	return err
}
