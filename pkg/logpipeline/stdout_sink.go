package logpipeline

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/netraven-io/netraven-core/pkg/model"
	"github.com/netraven-io/netraven-core/pkg/util"
)

// StdoutSink writes Log records through the shared logrus logger so they
// interleave with the rest of the process's structured log output.
type StdoutSink struct{}

// NewStdoutSink builds a StdoutSink.
func NewStdoutSink() *StdoutSink {
	return &StdoutSink{}
}

func (s *StdoutSink) Write(ctx context.Context, l model.Log) error {
	entry := util.WithFields(map[string]interface{}{
		"log_type": l.LogType,
		"source":   l.Source,
	})
	if l.JobID != nil {
		entry = entry.WithField("job_id", *l.JobID)
	}
	if l.DeviceID != nil {
		entry = entry.WithField("device_id", *l.DeviceID)
	}

	switch l.Level {
	case model.LevelDebug:
		entry.Debug(l.Message)
	case model.LevelWarning:
		entry.Warn(l.Message)
	case model.LevelError:
		entry.Error(l.Message)
	case model.LevelCritical:
		entry.Log(logrus.FatalLevel, l.Message)
	default:
		entry.Info(l.Message)
	}
	return nil
}

func (s *StdoutSink) Close() error { return nil }
