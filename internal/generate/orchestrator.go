package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/narratelabs/narrate-core/internal/audio"
	"github.com/narratelabs/narrate-core/internal/engine"
	"github.com/narratelabs/narrate-core/internal/model"
	"github.com/narratelabs/narrate-core/internal/script"
	"github.com/narratelabs/narrate-core/internal/voice"
)

// ErrNoChunks indicates an empty generation plan.
var ErrNoChunks = errors.New("generation plan has no chunks")

// ErrCancelled indicates the run stopped at a chunk boundary because the
// job was cancelled. A chunk already in flight is never preempted.
var ErrCancelled = errors.New("generation cancelled")

// GenerationError wraps a failed chunk inference call. Fatal to the run:
// chunks are not retried and no placeholder audio is written in their place.
type GenerationError struct {
	ChunkID int
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate chunk %d: %v", e.ChunkID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// FinalArtifactName is the well-known stitched output name inside a job's
// artifact directory.
const FinalArtifactName = "final.wav"

// Orchestrator drives one generation run: it acquires the full model variant
// once, generates every chunk strictly in ascending id order, persists chunk
// artifacts under the job's directory, reports progress after each step and
// hands the ordered artifacts to the stitcher. One orchestrator handles one
// run at a time; the worker enforces one run per process.
type Orchestrator struct {
	manager      *model.Manager
	stitcher     *audio.Stitcher
	storageRoot  string
	defaultVoice string
	sampleRate   int
	log          *slog.Logger

	chunkCounter metric.Int64Counter
	chunkSeconds metric.Float64Histogram
	runCounter   metric.Int64Counter
}

// NewOrchestrator wires an orchestrator. The residency manager is owned by
// the caller and shared across runs; its lifetime is the process's.
func NewOrchestrator(manager *model.Manager, stitcher *audio.Stitcher, storageRoot, defaultVoice string, sampleRate int, log *slog.Logger) *Orchestrator {
	if sampleRate <= 0 {
		sampleRate = engine.DefaultSampleRate
	}
	o := &Orchestrator{
		manager:      manager,
		stitcher:     stitcher,
		storageRoot:  storageRoot,
		defaultVoice: defaultVoice,
		sampleRate:   sampleRate,
		log:          log.With(slog.String("component", "orchestrator")),
	}

	meter := otel.Meter("narrate-core/generate")
	var err error
	if o.chunkCounter, err = meter.Int64Counter("narrate_chunks_generated_total",
		metric.WithDescription("Chunks generated across all runs")); err != nil {
		o.log.Warn("metric init failed", slog.String("error", err.Error()))
	}
	if o.chunkSeconds, err = meter.Float64Histogram("narrate_chunk_generation_seconds",
		metric.WithDescription("Wall time per chunk inference call")); err != nil {
		o.log.Warn("metric init failed", slog.String("error", err.Error()))
	}
	if o.runCounter, err = meter.Int64Counter("narrate_generation_runs_total",
		metric.WithDescription("Generation runs by terminal status")); err != nil {
		o.log.Warn("metric init failed", slog.String("error", err.Error()))
	}
	return o
}

// ArtifactDir returns the job-scoped artifact directory.
func (o *Orchestrator) ArtifactDir(jobID string) string {
	return filepath.Join(o.storageRoot, "audio", jobID)
}

// Generate runs the full pipeline for one job and returns the path of the
// stitched artifact. Any model-load, generation or stitch failure aborts the
// run after emitting a terminal failed snapshot; the run either produces a
// complete final artifact or none.
func (o *Orchestrator) Generate(ctx context.Context, chunks []script.Chunk, voiceMapping map[int]string, jobID string, sink Sink) (string, error) {
	progress := &Progress{TotalChunks: len(chunks), Phase: PhaseQueued}
	o.emit(sink, progress, jobID)

	if len(chunks) == 0 {
		return "", o.fail(sink, progress, jobID, ErrNoChunks)
	}

	progress.Phase = PhaseLoadingModel
	o.emit(sink, progress, jobID)

	resident, err := o.manager.Acquire(ctx, model.VariantFull)
	if err != nil {
		return "", o.fail(sink, progress, jobID, err)
	}
	defer resident.Release()

	dir := o.ArtifactDir(jobID)
	for _, chunk := range chunks {
		// Cancellation is coarse-grained: checked between chunks only.
		// The run's own hold must drop first or the unload is a no-op.
		if err := ctx.Err(); err != nil {
			resident.Release()
			o.manager.ReleaseIfUnused()
			return "", o.cancel(sink, progress, jobID)
		}

		progress.Phase = PhaseGenerating
		progress.CurrentChunk = chunk.ID
		progress.ChunkProgress = 0
		o.emit(sink, progress, jobID)

		path, err := o.generateChunk(ctx, resident.Engine, chunk, voiceMapping, jobID, dir)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				resident.Release()
				o.manager.ReleaseIfUnused()
				return "", o.cancel(sink, progress, jobID)
			}
			return "", o.fail(sink, progress, jobID, &GenerationError{ChunkID: chunk.ID, Err: err})
		}

		progress.ChunkProgress = 100
		progress.ArtifactPaths = append(progress.ArtifactPaths, path)
		o.emit(sink, progress, jobID)
	}

	progress.Phase = PhaseStitching
	o.emit(sink, progress, jobID)

	finalPath := filepath.Join(dir, FinalArtifactName)
	if err := o.stitcher.Stitch(progress.ArtifactPaths, finalPath); err != nil {
		return "", o.fail(sink, progress, jobID, err)
	}

	progress.Phase = PhaseCompleted
	o.emit(sink, progress, jobID)
	o.count(ctx, "completed")

	o.log.Info("generation run completed",
		slog.String("job_id", jobID),
		slog.Int("chunks", len(chunks)),
		slog.String("output", finalPath))
	return finalPath, nil
}

func (o *Orchestrator) generateChunk(ctx context.Context, eng engine.Engine, chunk script.Chunk, voiceMapping map[int]string, jobID, dir string) (string, error) {
	voices := voice.Resolve(voiceMapping, chunk.SpeakerIDs, o.defaultVoice)

	start := time.Now()
	clip, err := eng.Generate(ctx, engine.Request{
		JobID:      jobID,
		ChunkID:    chunk.ID,
		Text:       chunk.Text,
		Voices:     voices,
		SampleRate: o.sampleRate,
	})
	if err != nil {
		return "", err
	}
	if clip == nil || len(clip.Samples) == 0 {
		return "", errors.New("engine returned empty clip")
	}
	if o.chunkSeconds != nil {
		o.chunkSeconds.Record(ctx, time.Since(start).Seconds())
	}
	if o.chunkCounter != nil {
		o.chunkCounter.Add(ctx, 1)
	}

	path := filepath.Join(dir, fmt.Sprintf("chunk_%d.wav", chunk.ID))
	err = audio.WriteWAV(path, &audio.PCM{
		SampleRate: clip.SampleRate,
		Channels:   clip.Channels,
		Samples:    clip.Samples,
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func (o *Orchestrator) fail(sink Sink, progress *Progress, jobID string, err error) error {
	progress.Phase = PhaseFailed
	progress.Err = err.Error()
	o.emit(sink, progress, jobID)
	o.count(context.Background(), "failed")
	o.log.Error("generation run failed",
		slog.String("job_id", jobID),
		slog.String("error", err.Error()))
	return err
}

func (o *Orchestrator) cancel(sink Sink, progress *Progress, jobID string) error {
	progress.Phase = PhaseCancelled
	progress.Err = ErrCancelled.Error()
	o.emit(sink, progress, jobID)
	o.count(context.Background(), "cancelled")
	o.log.Info("generation run cancelled", slog.String("job_id", jobID))
	return ErrCancelled
}

func (o *Orchestrator) count(ctx context.Context, status string) {
	if o.runCounter != nil {
		o.runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

// emit delivers a snapshot to the sink, swallowing anything the sink does
// wrong. Progress emission never fails or rolls back generation.
func (o *Orchestrator) emit(sink Sink, progress *Progress, jobID string) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Warn("progress sink panicked", slog.Any("panic", r))
		}
	}()
	sink.Emit(progress.snapshot(jobID))
}
