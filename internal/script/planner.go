package script

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidSegment indicates malformed planner input. Planning fails fast
// rather than producing a silently truncated chunk.
var ErrInvalidSegment = errors.New("invalid segment")

const (
	// tokenOverhead is added to every segment estimate to account for
	// speaker tags and structural formatting around the raw text.
	tokenOverhead = 50

	// budgetFraction leaves a 20% safety margin of the model context for
	// generation overhead.
	budgetFraction = 0.8

	// wordsPerMinute is the reading-speed heuristic behind duration
	// estimates. Estimates feed progress UI only, never correctness.
	wordsPerMinute = 150
)

// Chunk is a generation-sized contiguous slice of the script. StartSegment
// and EndSegment are inclusive indexes into the planned segment list; across
// a plan they partition the input without gaps or overlap.
type Chunk struct {
	ID                int     `json:"id"`
	Text              string  `json:"text"`
	SpeakerIDs        []int   `json:"speaker_ids"`
	EstimatedDuration float64 `json:"estimated_duration_seconds"`
	StartSegment      int     `json:"start_segment_index"`
	EndSegment        int     `json:"end_segment_index"`
}

// EstimateTokens approximates the token cost of text. True tokenization
// would require the inference model itself, so a conservative ~4 chars per
// token proxy plus fixed overhead is used instead.
func EstimateTokens(text string) int {
	return len(text)/4 + tokenOverhead
}

// Plan splits segments into ordered chunks that each fit the model context
// budget. Segments are never split: a single segment whose estimate alone
// exceeds the budget still becomes its own oversized chunk, accepting a risk
// of downstream truncation over the complexity of mid-segment splits.
func Plan(segments []Segment, contextBudgetTokens int) ([]Chunk, error) {
	if contextBudgetTokens <= 0 {
		return nil, fmt.Errorf("%w: context budget %d must be positive", ErrInvalidSegment, contextBudgetTokens)
	}
	for i, seg := range segments {
		if err := seg.Validate(); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
	}
	if len(segments) == 0 {
		return nil, nil
	}

	maxChunkTokens := int(budgetFraction * float64(contextBudgetTokens))

	var chunks []Chunk
	var current []Segment
	currentTokens := 0
	start := 0

	for i, seg := range segments {
		segTokens := EstimateTokens(seg.Text)
		if len(current) > 0 && currentTokens+segTokens > maxChunkTokens {
			chunks = append(chunks, buildChunk(len(chunks), current, start, i-1))
			current = current[:0]
			currentTokens = 0
			start = i
		}
		current = append(current, seg)
		currentTokens += segTokens
	}
	chunks = append(chunks, buildChunk(len(chunks), current, start, len(segments)-1))

	return chunks, nil
}

func buildChunk(id int, segments []Segment, start, end int) Chunk {
	ids := make(map[int]struct{}, len(segments))
	words := 0
	for _, seg := range segments {
		ids[seg.SpeakerID] = struct{}{}
		words += len(strings.Fields(seg.Text))
	}
	speakerIDs := make([]int, 0, len(ids))
	for id := range ids {
		speakerIDs = append(speakerIDs, id)
	}
	sort.Ints(speakerIDs)

	return Chunk{
		ID:                id,
		Text:              Render(segments),
		SpeakerIDs:        speakerIDs,
		EstimatedDuration: 60 * float64(words) / wordsPerMinute,
		StartSegment:      start,
		EndSegment:        end,
	}
}

// Render formats segments into the bracket notation the inference engine
// consumes: "[speaker_id] text" lines separated by blank lines, so one
// textual blob carries full speaker attribution.
func Render(segments []Segment) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%d] %s", seg.SpeakerID, text))
	}
	return strings.Join(lines, "\n\n")
}
