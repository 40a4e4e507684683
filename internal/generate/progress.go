package generate

// Phase is the orchestrator state machine position. Runs move
// queued -> loading_model -> generating (per chunk) -> stitching ->
// completed; failed and cancelled are terminal from any non-terminal state.
type Phase string

const (
	PhaseQueued       Phase = "queued"
	PhaseLoadingModel Phase = "loading_model"
	PhaseGenerating   Phase = "generating"
	PhaseStitching    Phase = "stitching"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
	PhaseCancelled    Phase = "cancelled"
)

// Terminal reports whether no further snapshots follow this phase.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// Progress is the orchestrator's mutable run state. Only the orchestrator
// writes it; sinks observe copies via Snapshot.
type Progress struct {
	TotalChunks   int
	CurrentChunk  int
	ChunkProgress float64
	Phase         Phase
	Err           string
	ArtifactPaths []string
}

// inFlightCap keeps non-terminal snapshots strictly below 100 so consumers
// can treat overall_progress == 100 as completion.
const inFlightCap = 99.9

// Overall derives the 0-100 run progress:
// 100 * (current_chunk + chunk_progress/100) / total_chunks, clamped.
func (p *Progress) Overall() float64 {
	if p.Phase == PhaseCompleted {
		return 100
	}
	if p.TotalChunks == 0 {
		return 0
	}
	v := 100 * (float64(p.CurrentChunk) + p.ChunkProgress/100) / float64(p.TotalChunks)
	if v > inFlightCap {
		v = inFlightCap
	}
	if v < 0 {
		v = 0
	}
	return v
}

// Snapshot is an immutable projection of Progress handed to sinks.
type Snapshot struct {
	JobID         string   `json:"job_id"`
	Phase         Phase    `json:"status"`
	Overall       float64  `json:"overall_progress"`
	CurrentChunk  int      `json:"current_chunk"`
	TotalChunks   int      `json:"total_chunks"`
	ChunkProgress float64  `json:"chunk_progress"`
	Err           string   `json:"error,omitempty"`
	ArtifactPaths []string `json:"artifact_paths,omitempty"`
}

func (p *Progress) snapshot(jobID string) Snapshot {
	paths := make([]string, len(p.ArtifactPaths))
	copy(paths, p.ArtifactPaths)
	return Snapshot{
		JobID:         jobID,
		Phase:         p.Phase,
		Overall:       p.Overall(),
		CurrentChunk:  p.CurrentChunk,
		TotalChunks:   p.TotalChunks,
		ChunkProgress: p.ChunkProgress,
		Err:           p.Err,
		ArtifactPaths: paths,
	}
}
