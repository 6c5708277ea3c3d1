package emitter

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cirrus/pkg/resource"
)

// LogEmitter writes every change as a structured log line.
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter logs through the global logger.
func NewLogEmitter() *LogEmitter {
	return &LogEmitter{logger: log.Logger}
}

// NewLogEmitterWithLogger logs through l.
func NewLogEmitterWithLogger(l zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: l}
}

func (e *LogEmitter) Emit(_ context.Context, event Event) error {
	if event.Changes == nil {
		e.logger.Info().
			Int("resources", event.Snapshot.Count()).
			Msg("discovery baseline established")
		return nil
	}

	for _, diff := range event.Changes {
		r := diff.Resource
		ev := e.logger.Info().
			Str("key", r.Key().String()).
			Str("family", string(r.Family)).
			Str("region", r.Region).
			Str("change", string(diff.Type))

		if diff.Type == resource.DiffModified {
			for field, change := range diff.Changes {
				ev = ev.
					Str(field+".from", change.Previous).
					Str(field+".to", change.Current)
			}
		}

		ev.Msg("resource changed")
	}
	return nil
}

// Close is a no-op for the log emitter.
func (e *LogEmitter) Close() error {
	return nil
}
