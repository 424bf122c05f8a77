package logpipeline

import (
	"context"
	"fmt"

	"github.com/netraven-io/netraven-core/pkg/model"
)

// LogStore is the subset of pkg/store.DB the database sink needs.
type LogStore interface {
	InsertLog(ctx context.Context, l model.Log) (model.Log, error)
}

// DBSink persists every Log record. A single insert failure is retried
// once immediately before being surfaced to the Pipeline's warn log,
// since a transient pool hiccup is the common case and a dropped audit
// record is worse than one extra round trip.
type DBSink struct {
	store LogStore
}

// NewDBSink builds a DBSink.
func NewDBSink(store LogStore) *DBSink {
	return &DBSink{store: store}
}

func (s *DBSink) Write(ctx context.Context, l model.Log) error {
	_, err := s.store.InsertLog(ctx, l)
	if err == nil {
		return nil
	}
	if _, retryErr := s.store.InsertLog(ctx, l); retryErr == nil {
		return nil
	}
	return fmt.Errorf("inserting log after retry: %w", err)
}

func (s *DBSink) Close() error { return nil }
