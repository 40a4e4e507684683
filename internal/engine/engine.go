package engine

import "context"

// DefaultSampleRate is the pipeline-wide artifact sample rate: 24 kHz mono
// 16-bit PCM, matching the generation model output.
const DefaultSampleRate = 24000

// Request carries one chunk of formatted script into an inference call.
// Voices are ordered by ascending speaker id within the chunk.
type Request struct {
	JobID      string
	ChunkID    int
	Text       string
	Voices     []string
	SampleRate int
}

// Clip is the waveform produced for one chunk.
type Clip struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// DurationSeconds returns the clip length in seconds.
func (c *Clip) DurationSeconds() float64 {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// Engine turns chunk text plus speaker voices into PCM samples. The neural
// model behind it is a black box; implementations only honor this contract
// and its failure modes. Generate blocks for the full inference call and
// must be dispatched off any goroutine that services bus callbacks.
type Engine interface {
	Generate(ctx context.Context, req Request) (*Clip, error)
	Close() error
}
