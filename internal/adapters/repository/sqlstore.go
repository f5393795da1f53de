package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq" // postgres driver
	"github.com/okian/speedsync/internal/domain/model"
	"github.com/okian/speedsync/pkg/logger"
	"github.com/okian/speedsync/pkg/metrics"
	_ "modernc.org/sqlite" // sqlite driver
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	insertSQL = `INSERT INTO results (runner_number, finish_time, recorded_at) VALUES (?, ?, ?)
ON CONFLICT (runner_number, finish_time) DO NOTHING`
	listSQL   = `SELECT id, runner_number, finish_time, recorded_at FROM results ORDER BY finish_time ASC, id ASC`
	deleteSQL = `DELETE FROM results WHERE id = ?`
	clearSQL  = `DELETE FROM results`
	statsSQL  = `SELECT COUNT(*), MAX(recorded_at) FROM results`
	countSQL  = `SELECT COUNT(*) FROM results`
)

// SQLStore is a Store over database/sql, backed by SQLite or Postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
	clock  clockwork.Clock
	log    logger.Logger

	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// Open connects to the database, creates the schema, and starts the
// background metrics updater. It stops when ctx is done or on Close.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One connection: writers are serialized and :memory: stays a single database.
		db.SetMaxOpenConns(1)
	}

	s, err := newSQLStore(ctx, db, driver, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newSQLStore(ctx context.Context, db *sql.DB, driver string, opts ...Option) (*SQLStore, error) {
	s := &SQLStore{
		db:                    db,
		driver:                driver,
		clock:                 clockwork.NewRealClock(),
		log:                   logger.Nop(),
		metricsUpdateInterval: metrics.RefreshInterval(),
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
			return nil, fmt.Errorf("enable wal: %w", err)
		}
		if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout=5000`); err != nil {
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}
	if err := createSchema(ctx, db, driver); err != nil {
		return nil, err
	}

	s.updateMetrics(ctx)
	s.startMetricsUpdater(ctx)
	return s, nil
}

func (s *SQLStore) q(query string) string {
	return rebind(s.driver, query)
}

// observe records latency and, on failure, an error for op.
func (s *SQLStore) observe(op string, start time.Time, err error) {
	metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		metrics.RecordStoreError(op)
	}
}

// InsertBatch implements Store. The inserted count is summed from every
// row's RowsAffected before the commit.
func (s *SQLStore) InsertBatch(ctx context.Context, records []model.FinishRecord) (inserted int, err error) {
	start := time.Now()
	defer func() { s.observe("insert_batch", start, err) }()

	if len(records) == 0 {
		return 0, nil
	}
	for i, r := range records {
		if verr := r.Validate(); verr != nil {
			return 0, fmt.Errorf("%w: item %d: %w", ErrInvalidRecord, i, verr)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.q(insertSQL))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	receivedAt := model.FormatTime(s.clock.Now())
	var total int64
	for _, r := range records {
		recordedAt := r.RecordedAt
		if recordedAt == "" {
			recordedAt = receivedAt
		}
		res, execErr := stmt.ExecContext(ctx, r.RunnerNumber, r.FinishTime, recordedAt)
		if execErr != nil {
			return 0, fmt.Errorf("insert %s@%d: %w", r.RunnerNumber, r.FinishTime, execErr)
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			return 0, fmt.Errorf("rows affected: %w", raErr)
		}
		total += n
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	inserted = int(total)
	metrics.RecordResultsInserted(inserted)
	metrics.RecordResultsDuplicate(len(records) - inserted)
	return inserted, nil
}

// ListAll implements Store.
func (s *SQLStore) ListAll(ctx context.Context) (out []model.FinishRecord, err error) {
	start := time.Now()
	defer func() { s.observe("list_all", start, err) }()

	rows, err := s.db.QueryContext(ctx, s.q(listSQL))
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out = []model.FinishRecord{}
	for rows.Next() {
		var (
			r          model.FinishRecord
			recordedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunnerNumber, &r.FinishTime, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.RecordedAt = recordedAt.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// DeleteByID implements Store.
func (s *SQLStore) DeleteByID(ctx context.Context, id int64) (deleted int64, err error) {
	start := time.Now()
	defer func() {
		if errors.Is(err, ErrNotFound) {
			s.observe("delete_by_id", start, nil)
			return
		}
		s.observe("delete_by_id", start, err)
	}()

	res, err := s.db.ExecContext(ctx, s.q(deleteSQL), id)
	if err != nil {
		return 0, fmt.Errorf("delete result %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	for i := int64(0); i < n; i++ {
		metrics.RecordResultDeleted()
	}
	return n, nil
}

// DeleteAll implements Store.
func (s *SQLStore) DeleteAll(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { s.observe("delete_all", start, err) }()

	if _, err := s.db.ExecContext(ctx, s.q(clearSQL)); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}
	metrics.UpdateTotalResults(0)
	return nil
}

// Stats implements Store.
func (s *SQLStore) Stats(ctx context.Context) (st Stats, err error) {
	start := time.Now()
	defer func() { s.observe("stats", start, err) }()

	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, s.q(statsSQL)).Scan(&st.RecordCount, &last); err != nil {
		return Stats{}, fmt.Errorf("result stats: %w", err)
	}
	st.LastRecord = last.String
	return st, nil
}

// Close stops the metrics updater and closes the database.
func (s *SQLStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return s.db.Close()
}

// startMetricsUpdater starts a background goroutine that refreshes the stored-results gauge.
func (s *SQLStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics(ctx)
			}
		}
	}()
}

func (s *SQLStore) updateMetrics(ctx context.Context) {
	var n int
	if err := s.db.QueryRowContext(ctx, countSQL).Scan(&n); err != nil {
		s.log.Debug(ctx, "result count refresh failed", logger.Error(err))
		return
	}
	metrics.UpdateTotalResults(n)
}
