package protocol

import "time"

// GenerationRequest asks the worker to synthesize a full script. Segments
// arrive ordered; VoiceMapping assigns a voice id per speaker id, with
// absent entries resolved to the configured default voice.
type GenerationRequest struct {
	JobID        string          `json:"job_id,omitempty"`
	ProjectID    string          `json:"project_id,omitempty"`
	Segments     []ScriptSegment `json:"segments"`
	VoiceMapping map[int]string  `json:"voice_mapping,omitempty"`
	Options      RequestOptions  `json:"options"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ScriptSegment mirrors the editor's speaker-tagged passages.
type ScriptSegment struct {
	Text        string `json:"text"`
	SpeakerID   int    `json:"speaker_id"`
	SpeakerName string `json:"speaker_name,omitempty"`
}

// RequestOptions tweaks one run without touching worker config.
type RequestOptions struct {
	CrossfadeMS *int `json:"crossfade_ms,omitempty"`
}

// ProgressMessage is broadcast after every generation step. Delivery is
// at-most-once with no replay; consumers must tolerate duplicates and gaps.
type ProgressMessage struct {
	Type  string       `json:"type"`
	JobID string       `json:"job_id"`
	Data  ProgressData `json:"data"`
}

// ProgressData is the progress payload consumers render.
type ProgressData struct {
	Status          string  `json:"status"`
	OverallProgress float64 `json:"overall_progress"`
	CurrentChunk    int     `json:"current_chunk"`
	TotalChunks     int     `json:"total_chunks"`
	ChunkProgress   float64 `json:"chunk_progress"`
	Error           string  `json:"error,omitempty"`
}

// CancelRequest stops a running job at the next chunk boundary.
type CancelRequest struct {
	JobID     string    `json:"job_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JobAccepted acknowledges a generation request on the reply subject.
type JobAccepted struct {
	JobID    string `json:"job_id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

const (
	// SubjectGenerationRequest receives GenerationRequest messages.
	SubjectGenerationRequest = "generation.request"
	// SubjectGenerationProgressPrefix plus ".<job_id>" carries ProgressMessage.
	SubjectGenerationProgressPrefix = "generation.progress"
	// SubjectGenerationCancelPrefix plus ".<job_id>" carries CancelRequest.
	SubjectGenerationCancelPrefix = "generation.cancel"
)

// ProgressSubject returns the per-job progress subject.
func ProgressSubject(jobID string) string {
	return SubjectGenerationProgressPrefix + "." + jobID
}

// CancelSubject returns the per-job cancel subject.
func CancelSubject(jobID string) string {
	return SubjectGenerationCancelPrefix + "." + jobID
}
