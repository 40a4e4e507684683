package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/narratelabs/narrate-core/internal/audio"
	"github.com/narratelabs/narrate-core/internal/bus"
	"github.com/narratelabs/narrate-core/internal/config"
	"github.com/narratelabs/narrate-core/internal/generate"
	"github.com/narratelabs/narrate-core/internal/jobstore"
	"github.com/narratelabs/narrate-core/internal/model"
	"github.com/narratelabs/narrate-core/internal/protocol"
	"github.com/narratelabs/narrate-core/internal/script"
)

// Service accepts generation requests over the bus and drives one run at a
// time through the orchestrator. A second request arriving while a job is
// active is rejected rather than queued; the studio retries when the worker
// frees up.
type Service struct {
	cfg     config.Config
	bus     *bus.Client
	store   *jobstore.Store
	manager *model.Manager
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     *slog.Logger

	mu        sync.Mutex
	activeJob string
	stopJob   context.CancelFunc
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, store *jobstore.Store, manager *model.Manager, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		store:   store,
		manager: manager,
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With(slog.String("component", "worker")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectGenerationRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil }

// ActiveJob returns the id of the running job, or "" when idle.
func (s *Service) ActiveJob() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeJob
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.GenerationRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode generation request", slogError(err))
		s.reply(msg, protocol.JobAccepted{Accepted: false, Reason: "malformed request"})
		return
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	s.mu.Lock()
	if s.activeJob != "" {
		busy := s.activeJob
		s.mu.Unlock()
		s.log.Warn("rejecting generation request, worker busy",
			slog.String("job_id", jobID),
			slog.String("active_job", busy))
		s.reply(msg, protocol.JobAccepted{JobID: jobID, Accepted: false, Reason: "worker busy"})
		return
	}
	jobCtx, stop := context.WithCancel(s.ctx)
	s.activeJob = jobID
	s.stopJob = stop
	s.mu.Unlock()

	if err := s.store.Create(s.ctx, jobID, req.ProjectID); err != nil {
		s.log.Error("failed to create job record", slog.String("job_id", jobID), slogError(err))
		s.finishJob()
		s.reply(msg, protocol.JobAccepted{JobID: jobID, Accepted: false, Reason: "job store unavailable"})
		return
	}

	cancelSub, err := s.bus.Conn().Subscribe(protocol.CancelSubject(jobID), func(m *nats.Msg) {
		var cancelReq protocol.CancelRequest
		if err := json.Unmarshal(m.Data, &cancelReq); err != nil {
			s.log.Warn("failed to decode cancel request", slogError(err))
			return
		}
		s.log.Info("cancel requested",
			slog.String("job_id", jobID),
			slog.String("reason", cancelReq.Reason))
		stop()
	})
	if err != nil {
		s.log.Warn("failed to subscribe cancel subject", slog.String("job_id", jobID), slogError(err))
	}

	s.reply(msg, protocol.JobAccepted{JobID: jobID, Accepted: true})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finishJob()
		if cancelSub != nil {
			defer cancelSub.Unsubscribe()
		}
		s.run(jobCtx, jobID, req)
	}()
}

func (s *Service) finishJob() {
	s.mu.Lock()
	s.activeJob = ""
	if s.stopJob != nil {
		s.stopJob()
		s.stopJob = nil
	}
	s.mu.Unlock()
}

func (s *Service) run(ctx context.Context, jobID string, req protocol.GenerationRequest) {
	if err := s.store.MarkStarted(s.ctx, jobID); err != nil {
		s.log.Warn("failed to mark job started", slog.String("job_id", jobID), slogError(err))
	}

	segments := make([]script.Segment, len(req.Segments))
	for i, seg := range req.Segments {
		segments[i] = script.Segment{
			Text:        seg.Text,
			SpeakerID:   seg.SpeakerID,
			SpeakerName: seg.SpeakerName,
		}
	}

	profile, err := model.LookupProfile(model.VariantFull)
	if err != nil {
		s.failJob(jobID, err)
		return
	}

	chunks, err := script.Plan(segments, profile.ContextTokens)
	if err != nil {
		s.failJob(jobID, err)
		return
	}

	crossfadeMS := s.cfg.Generation.CrossfadeMS
	if req.Options.CrossfadeMS != nil {
		crossfadeMS = *req.Options.CrossfadeMS
	}
	stitcher := audio.NewStitcher(time.Duration(crossfadeMS)*time.Millisecond, s.log)
	orch := generate.NewOrchestrator(s.manager, stitcher, s.cfg.Storage.Path,
		s.cfg.Generation.DefaultVoice, s.cfg.Engine.SampleRate, s.log)

	finalPath, err := orch.Generate(ctx, chunks, req.VoiceMapping, jobID, s.progressSink(jobID))
	if err != nil {
		if errors.Is(err, generate.ErrCancelled) {
			if err := s.store.MarkCancelled(s.ctx, jobID); err != nil {
				s.log.Warn("failed to mark job cancelled", slog.String("job_id", jobID), slogError(err))
			}
			return
		}
		if err := s.store.MarkFailed(s.ctx, jobID, err.Error()); err != nil {
			s.log.Warn("failed to mark job failed", slog.String("job_id", jobID), slogError(err))
		}
		return
	}

	var durationSec float64
	if pcm, err := audio.ReadWAV(finalPath); err == nil {
		durationSec = pcm.DurationSeconds()
	} else {
		s.log.Warn("failed to read final artifact duration", slog.String("job_id", jobID), slogError(err))
	}
	if err := s.store.MarkCompleted(s.ctx, jobID, finalPath, durationSec); err != nil {
		s.log.Warn("failed to mark job completed", slog.String("job_id", jobID), slogError(err))
	}
}

func (s *Service) failJob(jobID string, err error) {
	s.log.Error("job failed before generation", slog.String("job_id", jobID), slogError(err))
	if markErr := s.store.MarkFailed(s.ctx, jobID, err.Error()); markErr != nil {
		s.log.Warn("failed to mark job failed", slog.String("job_id", jobID), slogError(markErr))
	}
	s.publishProgress(generate.Snapshot{
		JobID: jobID,
		Phase: generate.PhaseFailed,
		Err:   err.Error(),
	})
}

// progressSink broadcasts snapshots over the bus and mirrors them into the
// job store. Publishing is fire and forget; a drop or slow consumer never
// stalls generation.
func (s *Service) progressSink(jobID string) generate.Sink {
	return generate.MultiSink(generate.NewLogSink(s.log), generate.SinkFunc(func(snap generate.Snapshot) {
		s.publishProgress(snap)
		if !snap.Phase.Terminal() {
			err := s.store.UpdateProgress(s.ctx, jobID,
				jobstore.Status(snap.Phase), snap.Overall, snap.CurrentChunk, snap.TotalChunks)
			if err != nil {
				s.log.Warn("failed to persist progress", slog.String("job_id", jobID), slogError(err))
			}
		}
	}))
}

func (s *Service) publishProgress(snap generate.Snapshot) {
	msg := protocol.ProgressMessage{
		Type:  "progress",
		JobID: snap.JobID,
		Data: protocol.ProgressData{
			Status:          string(snap.Phase),
			OverallProgress: snap.Overall,
			CurrentChunk:    snap.CurrentChunk,
			TotalChunks:     snap.TotalChunks,
			ChunkProgress:   snap.ChunkProgress,
			Error:           snap.Err,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Warn("failed to marshal progress message", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.ProgressSubject(snap.JobID), data); err != nil {
		s.log.Warn("failed to publish progress", slog.String("job_id", snap.JobID), slogError(err))
	}
}

func (s *Service) reply(msg *nats.Msg, ack protocol.JobAccepted) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		s.log.Warn("failed to marshal job ack", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("failed to send job ack", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
