// Package logpipeline fans every Log record out to the set of sinks the
// worker is configured with: stdout, a rotating file, the database, and
// a pub/sub channel for live tailing.
package logpipeline

import (
	"context"
	"time"

	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/util"
)

// Sink receives one Log record at a time. Implementations must be safe
// for concurrent use; the Pipeline writes from many goroutines.
type Sink interface {
	Write(ctx context.Context, l model.Log) error
	Close() error
}

// Pipeline fans a Log out to every configured Sink. A sink failing does
// not block or fail the others; it's logged to the process logger and
// the record is dropped for that sink only.
type Pipeline struct {
	sinks []Sink
}

// New builds a Pipeline over the given sinks, in the order they should
// be written.
func New(sinks ...Sink) *Pipeline {
	return &Pipeline{sinks: sinks}
}

// Record writes l to every sink, assigning Timestamp if the caller left
// it zero.
func (p *Pipeline) Record(ctx context.Context, l model.Log) {
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	for _, sink := range p.sinks {
		if err := sink.Write(ctx, l); err != nil {
			logSinkFailure("", l, err)
		}
	}
}

func logSinkFailure(kind SinkKind, l model.Log, err error) {
	util.WithFields(map[string]interface{}{
		"source": l.Source,
		"sink":   string(kind),
	}).Warnf("logpipeline: sink write failed: %v", err)
}

// Close closes every sink, collecting the first error but attempting to
// close all of them regardless.
func (p *Pipeline) Close() error {
	var first error
	for _, sink := range p.sinks {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
