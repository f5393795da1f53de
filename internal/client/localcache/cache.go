package localcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/okian/speedsync/internal/domain/model"
	"github.com/okian/speedsync/pkg/logger"
	"github.com/okian/speedsync/pkg/metrics"
)

// Storage keys. They match the names the browser client used in localStorage.
const (
	KeyPending  = "currentRaceResults"
	KeyRaceLog  = "raceRecords"
	KeyClientID = "clientId"
)

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used for lastUpdated.
func WithClock(c clockwork.Clock) Option {
	return func(cache *Cache) {
		if c != nil {
			cache.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(cache *Cache) {
		if l != nil {
			cache.log = l
		}
	}
}

// Cache is the client's durable result cache. All reads and writes of one
// key are serialized by mu, so an append never interleaves with a clear.
type Cache struct {
	kv    KV
	clock clockwork.Clock
	log   logger.Logger

	mu sync.Mutex
}

// New wraps kv. The Cache does not own kv; call Close to release it.
func New(kv KV, opts ...Option) *Cache {
	c := &Cache{
		kv:    kv,
		clock: clockwork.NewRealClock(),
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pending returns a copy of the records awaiting a push, in capture order.
func (c *Cache) Pending(_ context.Context) ([]model.FinishRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	env, err := c.loadEnvelope()
	if err != nil {
		return nil, err
	}
	return env.Results, nil
}

// LastUpdated returns the envelope's lastUpdated, empty if never written.
func (c *Cache) LastUpdated(_ context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	env, err := c.loadEnvelope()
	if err != nil {
		return "", err
	}
	return env.LastUpdated, nil
}

// Append adds rec to the pending envelope and the race log and returns the
// new pending count. The envelope is written first; a race log failure is
// logged and does not fail the append. An undecodable envelope or race log
// is moved aside under "<key>.corrupt-<unix ms>" and started afresh.
func (c *Cache) Append(ctx context.Context, rec model.FinishRecord) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	env, err := c.loadEnvelope()
	if errors.Is(err, ErrCorrupt) {
		if err = c.quarantine(ctx, KeyPending, err); err != nil {
			return 0, err
		}
		env = model.Envelope{}
	}
	if err != nil {
		return 0, err
	}
	env.Results = append(env.Results, rec)
	if err := c.storeEnvelope(env); err != nil {
		return 0, err
	}

	raceLog, err := c.loadRaceLog()
	if errors.Is(err, ErrCorrupt) {
		raceLog, err = nil, c.quarantine(ctx, KeyRaceLog, err)
	}
	if err == nil {
		err = c.putJSON(KeyRaceLog, append(raceLog, rec))
	}
	if err != nil {
		c.log.Warn(ctx, "race log not updated",
			logger.String("runner_number", rec.RunnerNumber),
			logger.Error(err))
	}
	return len(env.Results), nil
}

// ClearPushed removes the records of a successful push and returns how many
// remain pending. Records appended after pushed was read are kept. When the
// pending list no longer starts with pushed (it was cleared or replaced in
// the meantime) only records equal to a pushed one are dropped.
func (c *Cache) ClearPushed(_ context.Context, pushed []model.FinishRecord) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	env, err := c.loadEnvelope()
	if err != nil {
		return 0, err
	}

	var remaining []model.FinishRecord
	if hasPrefix(env.Results, pushed) {
		remaining = append(remaining, env.Results[len(pushed):]...)
	} else {
		sent := make(map[model.FinishRecord]int, len(pushed))
		for _, r := range pushed {
			sent[r]++
		}
		for _, r := range env.Results {
			if sent[r] > 0 {
				sent[r]--
				continue
			}
			remaining = append(remaining, r)
		}
	}

	env.Results = remaining
	if err := c.storeEnvelope(env); err != nil {
		return 0, err
	}
	return len(remaining), nil
}

// ClearPending replaces the pending list with an empty one.
func (c *Cache) ClearPending(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeEnvelope(model.Envelope{})
}

// RaceLog returns every record captured on this client since the last ClearAll.
func (c *Cache) RaceLog(_ context.Context) ([]model.FinishRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadRaceLog()
}

// ClearAll empties the pending list and the race log. The client id survives.
func (c *Cache) ClearAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.storeEnvelope(model.Envelope{}); err != nil {
		return err
	}
	if err := c.kv.Delete(KeyRaceLog); err != nil {
		return fmt.Errorf("clear race log: %w", err)
	}
	return nil
}

// ClientID returns this client's identity, generating and persisting one on first use.
func (c *Cache) ClientID(_ context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.kv.Get(KeyClientID)
	if err == nil {
		if id, perr := uuid.ParseBytes(raw); perr == nil {
			return id.String(), nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("read client id: %w", err)
	}

	id := uuid.NewString()
	if err := c.kv.Put(KeyClientID, []byte(id)); err != nil {
		return "", fmt.Errorf("store client id: %w", err)
	}
	return id, nil
}

// Close releases the underlying KV.
func (c *Cache) Close() error {
	return c.kv.Close()
}

// quarantine copies the undecodable value of key aside so the next write
// can replace it without losing what was there.
func (c *Cache) quarantine(ctx context.Context, key string, cause error) error {
	raw, err := c.kv.Get(key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	aside := fmt.Sprintf("%s.corrupt-%d", key, c.clock.Now().UnixMilli())
	if err := c.kv.Put(aside, raw); err != nil {
		return fmt.Errorf("move aside %s: %w", key, err)
	}
	c.log.Warn(ctx, "corrupt cache entry moved aside",
		logger.String("key", key),
		logger.String("moved_to", aside),
		logger.Error(cause))
	return nil
}

func (c *Cache) loadEnvelope() (model.Envelope, error) {
	var env model.Envelope
	raw, err := c.kv.Get(KeyPending)
	if errors.Is(err, ErrNotFound) {
		return env, nil
	}
	if err != nil {
		return env, fmt.Errorf("read pending: %w", err)
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: %s: %w", ErrCorrupt, KeyPending, err)
	}
	return env, nil
}

func (c *Cache) storeEnvelope(env model.Envelope) error {
	if env.Results == nil {
		env.Results = []model.FinishRecord{}
	}
	env.LastUpdated = model.FormatTime(c.clock.Now())
	if err := c.putJSON(KeyPending, env); err != nil {
		return err
	}
	metrics.UpdatePendingRecords(len(env.Results))
	return nil
}

func (c *Cache) loadRaceLog() ([]model.FinishRecord, error) {
	var out []model.FinishRecord
	raw, err := c.kv.Get(KeyRaceLog)
	if errors.Is(err, ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read race log: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, KeyRaceLog, err)
	}
	return out, nil
}

func (c *Cache) putJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.kv.Put(key, raw); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func hasPrefix(records, prefix []model.FinishRecord) bool {
	if len(prefix) > len(records) {
		return false
	}
	for i := range prefix {
		if records[i] != prefix[i] {
			return false
		}
	}
	return true
}
