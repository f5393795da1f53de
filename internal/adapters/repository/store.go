// Package repository defines the result store interface and its SQL implementation.
package repository

import (
	"context"

	"github.com/okian/speedsync/internal/domain/model"
)

// Stats summarizes the store for the sync status view.
type Stats struct {
	RecordCount int
	LastRecord  string // latest recorded_at, empty when the store is empty
}

// Store provides read/write access to finish results.
type Store interface {
	// InsertBatch stores records in one transaction, skipping any whose
	// (runner_number, finish_time) already exists. It returns the number of
	// rows actually inserted. On error nothing from the batch is kept.
	InsertBatch(ctx context.Context, records []model.FinishRecord) (int, error)

	// ListAll returns every record ordered by finish_time, then id.
	ListAll(ctx context.Context) ([]model.FinishRecord, error)

	// DeleteByID removes one record. Returns ErrNotFound if no row matched.
	DeleteByID(ctx context.Context, id int64) (int64, error)

	// DeleteAll removes every record.
	DeleteAll(ctx context.Context) error

	Stats(ctx context.Context) (Stats, error)

	Close() error
}
