// Package recorder captures finish results into the local cache.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/okian/speedsync/internal/client/syncer"
	"github.com/okian/speedsync/internal/domain/model"
	"github.com/okian/speedsync/internal/domain/timing"
	"github.com/okian/speedsync/pkg/logger"
	"github.com/okian/speedsync/pkg/metrics"
)

// ErrInvalidInput is returned for an empty bib or a negative elapsed time.
var ErrInvalidInput = errors.New("invalid finish input")

// Cache is where captured records go.
type Cache interface {
	Append(ctx context.Context, rec model.FinishRecord) (int, error)
}

// Syncer is notified after each capture while online.
type Syncer interface {
	Trigger(ctx context.Context, trigger string)
}

// Connectivity reports whether the server is reachable.
type Connectivity interface {
	Online() bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock sets the clock stamping recorded_at.
func WithClock(c clockwork.Clock) Option {
	return func(r *Recorder) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// Recorder turns a bib and a time into a stored finish record.
type Recorder struct {
	cache  Cache
	syncer Syncer
	conn   Connectivity
	clock  clockwork.Clock
	log    logger.Logger
}

// New returns a Recorder. syncer and conn may be nil, in which case no sync
// is triggered.
func New(cache Cache, syncer Syncer, conn Connectivity, opts ...Option) *Recorder {
	r := &Recorder{
		cache:  cache,
		syncer: syncer,
		conn:   conn,
		clock:  clockwork.NewRealClock(),
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record stores a finish for bib at elapsedMillis. A cache write failure is
// logged and the record is still returned; only invalid input is an error.
func (r *Recorder) Record(ctx context.Context, bib string, elapsedMillis int64) (model.FinishRecord, error) {
	bib = strings.TrimSpace(bib)
	if bib == "" {
		return model.FinishRecord{}, fmt.Errorf("%w: runner number must not be empty", ErrInvalidInput)
	}
	if elapsedMillis < 0 {
		return model.FinishRecord{}, fmt.Errorf("%w: elapsed time must not be negative", ErrInvalidInput)
	}

	rec := model.FinishRecord{
		RunnerNumber: bib,
		FinishTime:   elapsedMillis,
		RecordedAt:   model.FormatTime(r.clock.Now()),
	}

	pending, err := r.cache.Append(ctx, rec)
	if err != nil {
		r.log.Error(ctx, "saving finish record failed",
			logger.String("runner_number", bib),
			logger.Int64("finish_time", elapsedMillis),
			logger.Error(err))
	} else {
		r.log.Debug(ctx, "finish recorded",
			logger.String("runner_number", bib),
			logger.String("time", timing.FormatElapsed(elapsedMillis)),
			logger.Int("pending", pending))
	}
	metrics.RecordRecordCaptured()

	if r.syncer != nil && r.conn != nil && r.conn.Online() {
		r.syncer.Trigger(ctx, syncer.TriggerRecord)
	}
	return rec, nil
}

// RecordStopwatch records bib at the stopwatch's current elapsed time.
func (r *Recorder) RecordStopwatch(ctx context.Context, bib string, sw *timing.Stopwatch) (model.FinishRecord, error) {
	return r.Record(ctx, bib, sw.ElapsedMillis())
}
