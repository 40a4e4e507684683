package script

import (
	"errors"
	"strings"
	"testing"
)

func TestPlanEmptyInput(t *testing.T) {
	chunks, err := Plan(nil, 64000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected empty plan, got %d chunks", len(chunks))
	}
}

func TestPlanSingleOversizedSegment(t *testing.T) {
	segments := []Segment{{Text: strings.Repeat("a ", 400), SpeakerID: 1}}
	chunks, err := Plan(segments, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].StartSegment != 0 || chunks[0].EndSegment != 0 {
		t.Fatalf("expected segment range [0,0], got [%d,%d]", chunks[0].StartSegment, chunks[0].EndSegment)
	}
}

func TestPlanPartitionCoversAllSegments(t *testing.T) {
	var segments []Segment
	for i := 0; i < 50; i++ {
		segments = append(segments, Segment{
			Text:      strings.Repeat("word ", 120),
			SpeakerID: 1 + i%3,
		})
	}

	chunks, err := Plan(segments, 2000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long input, got %d", len(chunks))
	}

	next := 0
	for i, c := range chunks {
		if c.ID != i {
			t.Fatalf("chunk %d has id %d", i, c.ID)
		}
		if c.StartSegment != next {
			t.Fatalf("chunk %d starts at %d, expected %d (gap or overlap)", i, c.StartSegment, next)
		}
		if c.EndSegment < c.StartSegment {
			t.Fatalf("chunk %d has inverted range [%d,%d]", i, c.StartSegment, c.EndSegment)
		}
		next = c.EndSegment + 1
	}
	if next != len(segments) {
		t.Fatalf("partition covers %d segments, expected %d", next, len(segments))
	}
}

func TestPlanRespectsBudgetMargin(t *testing.T) {
	var segments []Segment
	for i := 0; i < 30; i++ {
		segments = append(segments, Segment{Text: strings.Repeat("x", 800), SpeakerID: 1})
	}
	budget := 4000
	chunks, err := Plan(segments, budget)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	limit := int(0.8 * float64(budget))
	for _, c := range chunks {
		total := 0
		for i := c.StartSegment; i <= c.EndSegment; i++ {
			total += EstimateTokens(segments[i].Text)
		}
		if c.StartSegment != c.EndSegment && total > limit {
			t.Fatalf("multi-segment chunk %d estimates %d tokens, limit %d", c.ID, total, limit)
		}
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	prev := -1
	for n := 0; n < 2000; n += 37 {
		est := EstimateTokens(strings.Repeat("a", n))
		if est < prev {
			t.Fatalf("estimate decreased: %d chars -> %d tokens (prev %d)", n, est, prev)
		}
		prev = est
	}
}

func TestPlanRejectsInvalidSpeaker(t *testing.T) {
	_, err := Plan([]Segment{{Text: "hi", SpeakerID: 5}}, 64000)
	if !errors.Is(err, ErrInvalidSegment) {
		t.Fatalf("expected ErrInvalidSegment, got %v", err)
	}
	_, err = Plan([]Segment{{Text: "hi", SpeakerID: 0}}, 64000)
	if !errors.Is(err, ErrInvalidSegment) {
		t.Fatalf("expected ErrInvalidSegment for zero id, got %v", err)
	}
}

func TestPlanRejectsNonPositiveBudget(t *testing.T) {
	_, err := Plan([]Segment{{Text: "hi", SpeakerID: 1}}, 0)
	if !errors.Is(err, ErrInvalidSegment) {
		t.Fatalf("expected ErrInvalidSegment, got %v", err)
	}
}

func TestRenderSpeakerTags(t *testing.T) {
	segments := []Segment{
		{Text: "Welcome back.", SpeakerID: 1},
		{Text: "  ", SpeakerID: 2},
		{Text: "Glad to be here.", SpeakerID: 2},
	}
	got := Render(segments)
	want := "[1] Welcome back.\n\n[2] Glad to be here."
	if got != want {
		t.Fatalf("rendered %q, want %q", got, want)
	}
}

func TestChunkMetadata(t *testing.T) {
	segments := []Segment{
		{Text: "one two three", SpeakerID: 2},
		{Text: "four five six seven", SpeakerID: 1},
	}
	chunks, err := Plan(segments, 64000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if len(c.SpeakerIDs) != 2 || c.SpeakerIDs[0] != 1 || c.SpeakerIDs[1] != 2 {
		t.Fatalf("expected sorted speaker ids [1 2], got %v", c.SpeakerIDs)
	}
	want := 60 * 7.0 / 150
	if c.EstimatedDuration != want {
		t.Fatalf("expected duration %.3f, got %.3f", want, c.EstimatedDuration)
	}
}
