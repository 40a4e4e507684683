package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/narratelabs/narrate-core/internal/bus"
	"github.com/narratelabs/narrate-core/internal/config"
	"github.com/narratelabs/narrate-core/internal/engine"
	"github.com/narratelabs/narrate-core/internal/jobstore"
	"github.com/narratelabs/narrate-core/internal/model"
	"github.com/narratelabs/narrate-core/internal/natsserver"
	"github.com/narratelabs/narrate-core/internal/protocol"
)

// gateEngine blocks inside Generate until the run context is cancelled, so
// tests can hold a job open deterministically.
type gateEngine struct {
	entered chan struct{}
	once    sync.Once
}

func (g *gateEngine) Generate(ctx context.Context, _ engine.Request) (*engine.Clip, error) {
	g.once.Do(func() { close(g.entered) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (g *gateEngine) Close() error { return nil }

func testService(t *testing.T, eng engine.Engine) (*Service, *nats.Conn, *jobstore.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	embedded, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, dir, log)
	if err != nil {
		t.Fatalf("start embedded bus: %v", err)
	}
	t.Cleanup(embedded.Shutdown)

	busClient, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{embedded.ClientURL()},
		ConnectTimeout: 2000,
	}, log)
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(busClient.Close)

	store, err := jobstore.Open(context.Background(), config.JobStoreConfig{
		Path: filepath.Join(dir, "jobs.db"),
	}, log)
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	manager := model.NewManager(func(context.Context, model.Profile) (engine.Engine, error) {
		return eng, nil
	}, log)

	cfg := config.Default()
	cfg.Storage.Path = dir
	svc := NewService(context.Background(), cfg, busClient, store, manager, log)
	if err := svc.Start(); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	t.Cleanup(svc.Close)

	return svc, busClient.Conn(), store
}

func TestBusyRejectionAndCancelOverBus(t *testing.T) {
	eng := &gateEngine{entered: make(chan struct{})}
	svc, conn, store := testService(t, eng)

	progCh := make(chan *nats.Msg, 32)
	progSub, err := conn.ChanSubscribe(protocol.SubjectGenerationProgressPrefix+".>", progCh)
	if err != nil {
		t.Fatalf("subscribe progress: %v", err)
	}
	defer progSub.Unsubscribe()

	req := protocol.GenerationRequest{
		Segments:  []protocol.ScriptSegment{{Text: "hello there from the narrator", SpeakerID: 1}},
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	ackMsg, err := conn.Request(protocol.SubjectGenerationRequest, data, 5*time.Second)
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	var ack protocol.JobAccepted
	if err := json.Unmarshal(ackMsg.Data, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Accepted || ack.JobID == "" {
		t.Fatalf("expected accepted ack with job id, got %+v", ack)
	}

	select {
	case <-eng.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never invoked")
	}

	// A second request while the first job runs is rejected, not queued.
	busyMsg, err := conn.Request(protocol.SubjectGenerationRequest, data, 5*time.Second)
	if err != nil {
		t.Fatalf("send second request: %v", err)
	}
	var busy protocol.JobAccepted
	if err := json.Unmarshal(busyMsg.Data, &busy); err != nil {
		t.Fatalf("decode busy ack: %v", err)
	}
	if busy.Accepted {
		t.Fatal("second request accepted while a job is running")
	}
	if busy.Reason != "worker busy" {
		t.Fatalf("busy rejection reason %q, want \"worker busy\"", busy.Reason)
	}

	var first protocol.ProgressMessage
	select {
	case m := <-progCh:
		if err := json.Unmarshal(m.Data, &first); err != nil {
			t.Fatalf("decode progress message: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no progress broadcast received")
	}
	if first.Type != "progress" || first.JobID != ack.JobID {
		t.Fatalf("unexpected progress message %+v", first)
	}
	if first.Data.Status == "" {
		t.Fatal("progress message carries no status")
	}

	cancelData, err := json.Marshal(protocol.CancelRequest{
		JobID:     ack.JobID,
		Reason:    "user abort",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal cancel: %v", err)
	}
	if err := conn.Publish(protocol.CancelSubject(ack.JobID), cancelData); err != nil {
		t.Fatalf("publish cancel: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := store.Get(context.Background(), ack.JobID)
		if err == nil && job.Status == jobstore.StatusCancelled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached cancelled; last status %q, err %v", job.Status, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The cancelled slot frees up for the next job.
	deadline = time.Now().Add(5 * time.Second)
	for svc.ActiveJob() != "" {
		if time.Now().After(deadline) {
			t.Fatal("worker still reports an active job after cancellation")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestMalformedRequestRejected(t *testing.T) {
	eng := &gateEngine{entered: make(chan struct{})}
	_, conn, _ := testService(t, eng)

	ackMsg, err := conn.Request(protocol.SubjectGenerationRequest, []byte("{not json"), 5*time.Second)
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	var ack protocol.JobAccepted
	if err := json.Unmarshal(ackMsg.Data, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Accepted {
		t.Fatal("malformed request accepted")
	}
}
