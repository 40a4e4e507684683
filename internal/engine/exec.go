package engine

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execEngine struct {
	cmd        []string
	modelID    string
	backend    Backend
	sampleRate int
	mu         sync.Mutex
}

type execRequest struct {
	Text       string   `json:"text"`
	Voices     []string `json:"voices"`
	ModelID    string   `json:"model_id"`
	Device     string   `json:"device"`
	SampleRate int      `json:"sample_rate"`
}

type execResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Error      string `json:"error,omitempty"`
}

// NewExec returns an engine that shells out to an external inference
// process. The command receives one JSON request on stdin and replies with
// one JSON line carrying base64 little-endian 16-bit PCM. Calls are
// serialized: the external process owns the whole accelerator budget.
func NewExec(command, modelID string, sampleRate int) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &execEngine{
		cmd:        args,
		modelID:    modelID,
		backend:    DetectBackend(),
		sampleRate: sampleRate,
	}, nil
}

func (e *execEngine) Generate(ctx context.Context, req Request) (*Clip, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rate := req.SampleRate
	if rate <= 0 {
		rate = e.sampleRate
	}
	payload, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voices:     req.Voices,
		ModelID:    e.modelID,
		Device:     string(e.backend),
		SampleRate: rate,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine process: %w", err)
	}

	if _, err := stdin.Write(payload); err != nil {
		cmd.Wait()
		return nil, err
	}
	stdin.Close()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1024*1024), 256*1024*1024)
	var resp execResponse
	decoded := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &resp); err != nil {
			cmd.Wait()
			return nil, fmt.Errorf("decode engine response: %w", err)
		}
		decoded = true
		break
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("engine process: %w", err)
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return nil, scanErr
	}
	if !decoded {
		return nil, fmt.Errorf("engine process produced no output")
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("engine: %s", resp.Error)
	}

	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return nil, fmt.Errorf("decode engine pcm: %w", err)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("engine pcm has odd byte length %d", len(pcm))
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}

	channels := resp.Channels
	if channels <= 0 {
		channels = 1
	}
	outRate := resp.SampleRate
	if outRate <= 0 {
		outRate = rate
	}
	return &Clip{SampleRate: outRate, Channels: channels, Samples: samples}, nil
}

func (e *execEngine) Close() error { return nil }
