package logpipeline

import (
	"context"

	"github.com/netraven-io/netraven-core/pkg/model"
)

// SinkKind names one of the four destinations a Log record can reach.
type SinkKind string

const (
	SinkStdout  SinkKind = "stdout"
	SinkFile    SinkKind = "file"
	SinkDB      SinkKind = "db"
	SinkChannel SinkKind = "channel"
)

// KeyedPipeline is a Pipeline whose sinks are addressable by SinkKind,
// letting a caller pick which destinations one record should reach
// instead of always fanning out to every configured sink.
type KeyedPipeline struct {
	sinks map[SinkKind]Sink
	order []SinkKind
}

// NewKeyed builds a KeyedPipeline from a kind-to-sink map. order fixes
// the write sequence (stdout/file/db preserve per-record emission order;
// channel is expected last since it carries no ordering guarantee of
// its own).
func NewKeyed(sinks map[SinkKind]Sink, order []SinkKind) *KeyedPipeline {
	return &KeyedPipeline{sinks: sinks, order: order}
}

// Log writes l to every sink named in destinations that KeyedPipeline
// actually has configured, in KeyedPipeline's fixed order. A sink that
// isn't configured is silently skipped rather than treated as an error.
func (p *KeyedPipeline) Log(ctx context.Context, l model.Log, destinations map[SinkKind]bool) {
	for _, kind := range p.order {
		if !destinations[kind] {
			continue
		}
		sink, ok := p.sinks[kind]
		if !ok {
			continue
		}
		if err := sink.Write(ctx, l); err != nil {
			logSinkFailure(kind, l, err)
		}
	}
}

// Close closes every configured sink.
func (p *KeyedPipeline) Close() error {
	var first error
	for _, kind := range p.order {
		sink, ok := p.sinks[kind]
		if !ok {
			continue
		}
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// DefaultDestinations picks which sinks a record reaches when the caller
// doesn't override it: everything below error severity skips the
// channel (live-tail is for operators watching active problems, not
// routine debug/info noise), and every level always reaches stdout, the
// file, and the database so the historical record is complete.
func DefaultDestinations(logType model.LogType, level model.LogLevel) map[SinkKind]bool {
	dest := map[SinkKind]bool{
		SinkStdout: true,
		SinkFile:   true,
		SinkDB:     true,
	}
	switch level {
	case model.LevelWarning, model.LevelError, model.LevelCritical:
		dest[SinkChannel] = true
	}
	return dest
}
