package script

import "fmt"

// MaxSpeakers is the largest speaker id a script may reference. The full
// generation model supports four distinct speakers per session.
const MaxSpeakers = 4

// Segment is one speaker-attributed passage of a script. Segments are
// produced by the script editor upstream and are immutable once handed to
// the planner.
type Segment struct {
	Text        string `json:"text"`
	SpeakerID   int    `json:"speaker_id"`
	SpeakerName string `json:"speaker_name,omitempty"`
}

// Validate reports whether the segment can be planned.
func (s Segment) Validate() error {
	if s.SpeakerID < 1 || s.SpeakerID > MaxSpeakers {
		return fmt.Errorf("%w: speaker_id %d outside 1..%d", ErrInvalidSegment, s.SpeakerID, MaxSpeakers)
	}
	return nil
}
