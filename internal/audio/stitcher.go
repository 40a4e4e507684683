package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ErrNoArtifacts indicates a stitch call with an empty input list.
var ErrNoArtifacts = errors.New("no chunk artifacts to stitch")

// ErrFormatMismatch indicates inputs with differing sample rates or channel
// layouts. Inputs are never silently resampled.
var ErrFormatMismatch = errors.New("chunk artifact format mismatch")

// Stitcher combines ordered chunk artifacts into one continuous waveform.
// A positive crossfade blends every adjacent boundary with triangular
// weights; a zero crossfade selects plain concatenation, which is signalled
// in the log and by the shorter overlap-free output rather than silently
// standing in for the blended mode.
type Stitcher struct {
	crossfade time.Duration
	log       *slog.Logger
}

// NewStitcher builds a stitcher with the given crossfade duration.
func NewStitcher(crossfade time.Duration, log *slog.Logger) *Stitcher {
	return &Stitcher{
		crossfade: crossfade,
		log:       log.With(slog.String("component", "stitcher")),
	}
}

// Stitch merges the ordered artifact paths into outPath. A single input is
// copied through byte for byte: no crossfade is possible or needed.
func (s *Stitcher) Stitch(paths []string, outPath string) error {
	if len(paths) == 0 {
		return ErrNoArtifacts
	}
	if len(paths) == 1 {
		return copyFile(paths[0], outPath)
	}

	clips := make([]*PCM, len(paths))
	for i, p := range paths {
		clip, err := ReadWAV(p)
		if err != nil {
			return err
		}
		if i > 0 {
			if clip.SampleRate != clips[0].SampleRate || clip.Channels != clips[0].Channels {
				return fmt.Errorf("%w: %s is %d Hz/%d ch, expected %d Hz/%d ch",
					ErrFormatMismatch, p, clip.SampleRate, clip.Channels,
					clips[0].SampleRate, clips[0].Channels)
			}
		}
		clips[i] = clip
	}

	var merged *PCM
	if s.crossfade <= 0 {
		s.log.Warn("crossfade disabled, concatenating chunks with audible seams",
			slog.Int("chunks", len(clips)))
		merged = concat(clips)
	} else {
		merged = crossfadeMerge(clips, s.crossfade, s.log)
	}

	s.log.Info("stitched artifact",
		slog.Int("chunks", len(clips)),
		slog.Float64("duration_seconds", merged.DurationSeconds()))
	return WriteWAV(outPath, merged)
}

func concat(clips []*PCM) *PCM {
	total := 0
	for _, c := range clips {
		total += len(c.Samples)
	}
	out := &PCM{SampleRate: clips[0].SampleRate, Channels: clips[0].Channels}
	out.Samples = make([]int16, 0, total)
	for _, c := range clips {
		out.Samples = append(out.Samples, c.Samples...)
	}
	return out
}

// crossfadeMerge blends each adjacent boundary over the crossfade window.
// The output sample in an overlap region is a triangular-weighted mix of the
// tail of clip n and the head of clip n+1, so total duration is about
// sum(durations) - (n-1)*crossfade.
func crossfadeMerge(clips []*PCM, crossfade time.Duration, log *slog.Logger) *PCM {
	rate := clips[0].SampleRate
	channels := clips[0].Channels
	fadeFrames := int(crossfade.Seconds() * float64(rate))

	out := &PCM{SampleRate: rate, Channels: channels}
	out.Samples = append(out.Samples, clips[0].Samples...)

	for _, next := range clips[1:] {
		overlap := fadeFrames * channels
		if n := len(out.Samples); overlap > n {
			overlap = n
		}
		if n := len(next.Samples); overlap > n {
			overlap = n
		}
		overlap -= overlap % channels
		if overlap < fadeFrames*channels {
			log.Warn("chunk shorter than crossfade window, shortening blend",
				slog.Int("overlap_samples", overlap))
		}

		// Weights advance per frame, not per interleaved sample, so every
		// channel of a frame blends identically.
		base := len(out.Samples) - overlap
		overlapFrames := overlap / channels
		for i := 0; i < overlap; i++ {
			w := float64(i/channels+1) / float64(overlapFrames+1)
			tail := float64(out.Samples[base+i])
			head := float64(next.Samples[i])
			out.Samples[base+i] = clampInt16(tail*(1-w) + head*w)
		}
		out.Samples = append(out.Samples, next.Samples[overlap:]...)
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create final artifact: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy artifact: %w", err)
	}
	return out.Close()
}
