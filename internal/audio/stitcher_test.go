package audio

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTone(t *testing.T, path string, seconds float64, rate int, amplitude int16) {
	t.Helper()
	n := int(seconds * float64(rate))
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(float64(amplitude) * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	if err := WriteWAV(path, &PCM{SampleRate: rate, Channels: 1, Samples: samples}); err != nil {
		t.Fatalf("write tone: %v", err)
	}
}

func TestStitchNoInputs(t *testing.T) {
	s := NewStitcher(500*time.Millisecond, testLogger())
	if err := s.Stitch(nil, filepath.Join(t.TempDir(), "out.wav")); !errors.Is(err, ErrNoArtifacts) {
		t.Fatalf("expected ErrNoArtifacts, got %v", err)
	}
}

func TestStitchSingleInputByteIdentical(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "chunk_0.wav")
	out := filepath.Join(dir, "final.wav")
	writeTone(t, in, 1.0, 24000, 8000)

	s := NewStitcher(500*time.Millisecond, testLogger())
	if err := s.Stitch([]string{in}, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, err := os.ReadFile(in)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("single-artifact stitch must be a byte-for-byte copy")
	}
}

func TestStitchCrossfadeDuration(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "chunk_0.wav")
	b := filepath.Join(dir, "chunk_1.wav")
	out := filepath.Join(dir, "final.wav")
	writeTone(t, a, 10.0, 24000, 8000)
	writeTone(t, b, 8.0, 24000, 8000)

	s := NewStitcher(500*time.Millisecond, testLogger())
	if err := s.Stitch([]string{a, b}, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	merged, err := ReadWAV(out)
	if err != nil {
		t.Fatalf("read stitched output: %v", err)
	}
	got := merged.DurationSeconds()
	if math.Abs(got-17.5) > 0.01 {
		t.Fatalf("expected ~17.5s stitched duration, got %.3fs", got)
	}
	if merged.SampleRate != 24000 || merged.Channels != 1 {
		t.Fatalf("expected 24kHz mono output, got %d Hz %d ch", merged.SampleRate, merged.Channels)
	}
}

func TestStitchConcatFallback(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "chunk_0.wav")
	b := filepath.Join(dir, "chunk_1.wav")
	out := filepath.Join(dir, "final.wav")
	writeTone(t, a, 2.0, 24000, 8000)
	writeTone(t, b, 3.0, 24000, 8000)

	s := NewStitcher(0, testLogger())
	if err := s.Stitch([]string{a, b}, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	merged, err := ReadWAV(out)
	if err != nil {
		t.Fatalf("read stitched output: %v", err)
	}
	if math.Abs(merged.DurationSeconds()-5.0) > 0.01 {
		t.Fatalf("expected 5.0s plain concat, got %.3fs", merged.DurationSeconds())
	}
}

func TestStitchSampleRateMismatch(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "chunk_0.wav")
	b := filepath.Join(dir, "chunk_1.wav")
	writeTone(t, a, 1.0, 24000, 8000)
	writeTone(t, b, 1.0, 16000, 8000)

	s := NewStitcher(500*time.Millisecond, testLogger())
	err := s.Stitch([]string{a, b}, filepath.Join(dir, "final.wav"))
	if !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch, got %v", err)
	}
}

func TestStitchCrossfadeLongerThanClip(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "chunk_0.wav")
	b := filepath.Join(dir, "chunk_1.wav")
	out := filepath.Join(dir, "final.wav")
	writeTone(t, a, 0.2, 24000, 8000)
	writeTone(t, b, 0.2, 24000, 8000)

	// Crossfade window exceeds both clips; blend shortens instead of failing.
	s := NewStitcher(time.Second, testLogger())
	if err := s.Stitch([]string{a, b}, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	merged, err := ReadWAV(out)
	if err != nil {
		t.Fatalf("read stitched output: %v", err)
	}
	if merged.DurationSeconds() <= 0 {
		t.Fatal("expected non-empty output")
	}
}

func TestCrossfadeFrameAlignedStereo(t *testing.T) {
	// Constant-valued stereo clips: with frame-aligned weights both channels
	// of every blended frame receive the same mix and stay equal.
	frames := 2400
	mk := func(v int16) *PCM {
		samples := make([]int16, frames*2)
		for i := range samples {
			samples[i] = v
		}
		return &PCM{SampleRate: 24000, Channels: 2, Samples: samples}
	}

	merged := crossfadeMerge([]*PCM{mk(8000), mk(-8000)}, 50*time.Millisecond, testLogger())
	if len(merged.Samples)%2 != 0 {
		t.Fatalf("merged sample count %d not frame aligned", len(merged.Samples))
	}
	for i := 0; i < len(merged.Samples); i += 2 {
		if l, r := merged.Samples[i], merged.Samples[i+1]; l != r {
			t.Fatalf("frame %d channels diverge: left %d, right %d", i/2, l, r)
		}
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	in := &PCM{SampleRate: 24000, Channels: 1, Samples: []int16{0, 100, -100, 32767, -32768}}
	if err := WriteWAV(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.SampleRate != in.SampleRate || out.Channels != in.Channels {
		t.Fatalf("format changed: %d Hz %d ch", out.SampleRate, out.Channels)
	}
	if len(out.Samples) != len(in.Samples) {
		t.Fatalf("sample count changed: %d vs %d", len(out.Samples), len(in.Samples))
	}
	for i := range in.Samples {
		if out.Samples[i] != in.Samples[i] {
			t.Fatalf("sample %d changed: %d vs %d", i, out.Samples[i], in.Samples[i])
		}
	}
}
