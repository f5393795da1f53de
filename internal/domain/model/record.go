// Package model contains domain models passed between layers.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeLayout matches JavaScript's Date.prototype.toISOString output.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in TimeLayout, always in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FinishRecord is one runner crossing the line.
// JSON field names mirror the results table and the bulk push body.
type FinishRecord struct {
	ID           int64  `json:"id,omitempty"` // assigned by the result store, never pushed
	RunnerNumber string `json:"runner_number"`
	FinishTime   int64  `json:"finish_time"`           // ms since race start
	RecordedAt   string `json:"recorded_at,omitempty"` // client capture instant, TimeLayout
}

// Validate reports whether r can be stored.
func (r FinishRecord) Validate() error {
	if strings.TrimSpace(r.RunnerNumber) == "" {
		return fmt.Errorf("%w: runner_number is required", ErrInvalidRecord)
	}
	if r.FinishTime < 0 {
		return fmt.Errorf("%w: finish_time must not be negative", ErrInvalidRecord)
	}
	return nil
}

// UnmarshalJSON accepts runner_number as a string or a number.
func (r *FinishRecord) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID           int64  `json:"id"`
		RunnerNumber Bib    `json:"runner_number"`
		FinishTime   int64  `json:"finish_time"`
		RecordedAt   string `json:"recorded_at"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = FinishRecord{
		ID:           wire.ID,
		RunnerNumber: string(wire.RunnerNumber),
		FinishTime:   wire.FinishTime,
		RecordedAt:   wire.RecordedAt,
	}
	return nil
}

// Bib is a bib number that decodes from either a JSON string or a JSON number.
// It always holds the textual form.
type Bib string

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bib) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = Bib(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: runner_number must be a string or a number", ErrInvalidRecord)
	}
	*b = Bib(n.String())
	return nil
}

// Envelope is the pending-results document kept in the local cache.
type Envelope struct {
	Results     []FinishRecord `json:"results"`
	LastUpdated string         `json:"lastUpdated"`
}

// SortByFinishTime orders records by finish time, keeping the relative order of ties.
func SortByFinishTime(records []FinishRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].FinishTime < records[j].FinishTime
	})
}
