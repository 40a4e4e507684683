package engine

import (
	"context"
	"testing"
)

func TestMockDeterministic(t *testing.T) {
	e := NewMock(24000)
	req := Request{Text: "one two three four five", Voices: []string{"en-Carter_man"}}

	a, err := e.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := e.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Samples) != len(b.Samples) {
		t.Fatalf("non-deterministic sample count: %d vs %d", len(a.Samples), len(b.Samples))
	}
	for i := range a.Samples {
		if a.Samples[i] != b.Samples[i] {
			t.Fatalf("sample %d differs", i)
		}
	}
	if a.SampleRate != 24000 || a.Channels != 1 {
		t.Fatalf("expected 24kHz mono, got %d Hz %d ch", a.SampleRate, a.Channels)
	}
}

func TestMockScalesWithText(t *testing.T) {
	e := NewMock(0)
	short, err := e.Generate(context.Background(), Request{Text: "hi there"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	long, err := e.Generate(context.Background(), Request{Text: "a b c d e f g h i j k l m n o p q r s t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(long.Samples) <= len(short.Samples) {
		t.Fatalf("longer text should yield longer clip: %d vs %d", len(long.Samples), len(short.Samples))
	}
}

func TestMockHonorsCancelledContext(t *testing.T) {
	e := NewMock(24000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Generate(ctx, Request{Text: "hello"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestClipDuration(t *testing.T) {
	c := &Clip{SampleRate: 24000, Channels: 1, Samples: make([]int16, 24000*2)}
	if d := c.DurationSeconds(); d != 2 {
		t.Fatalf("expected 2s, got %v", d)
	}
}

func TestNewExecRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExec("", "model", 24000); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestDetectBackendForced(t *testing.T) {
	t.Setenv("NARRATE_DEVICE", "cpu")
	if b := DetectBackend(); b != BackendCPU {
		t.Fatalf("expected forced cpu backend, got %s", b)
	}
}

func TestPreferenceEndsWithCPU(t *testing.T) {
	p := Preference()
	if len(p) == 0 || p[len(p)-1] != BackendCPU {
		t.Fatalf("cpu must be the universal fallback, got %v", p)
	}
}
