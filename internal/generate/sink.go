package generate

import "log/slog"

// Sink receives progress snapshots. Sinks are strictly best-effort: the
// orchestrator discards their errors and panics, so observability can never
// threaten the generation critical path. Consumers must tolerate duplicate
// or dropped snapshots.
type Sink interface {
	Emit(Snapshot)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Snapshot)

func (f SinkFunc) Emit(s Snapshot) { f(s) }

// NewLogSink returns a sink that writes snapshots to the logger.
func NewLogSink(log *slog.Logger) Sink {
	l := log.With(slog.String("component", "progress"))
	return SinkFunc(func(s Snapshot) {
		l.Info("generation progress",
			slog.String("job_id", s.JobID),
			slog.String("status", string(s.Phase)),
			slog.Float64("overall", s.Overall),
			slog.Int("current_chunk", s.CurrentChunk),
			slog.Int("total_chunks", s.TotalChunks))
	})
}

// MultiSink fans a snapshot out to each sink in order.
func MultiSink(sinks ...Sink) Sink {
	return SinkFunc(func(s Snapshot) {
		for _, sink := range sinks {
			if sink != nil {
				sink.Emit(s)
			}
		}
	})
}
