package engine

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

type mockEngine struct {
	sampleRate int
}

// NewMock returns a deterministic engine for tests and installs without an
// accelerator. Output depends only on the request, so repeated runs produce
// identical artifacts.
func NewMock(sampleRate int) Engine {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &mockEngine{sampleRate: sampleRate}
}

func (m *mockEngine) Generate(ctx context.Context, req Request) (*Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rate := req.SampleRate
	if rate <= 0 {
		rate = m.sampleRate
	}

	// One second per ten words keeps test artifacts small while still
	// scaling with input length.
	words := len(strings.Fields(req.Text))
	if words == 0 {
		words = 1
	}
	seconds := float64(words) / 10
	if seconds < 0.05 {
		seconds = 0.05
	}
	n := int(seconds * float64(rate))

	h := fnv.New32a()
	h.Write([]byte(req.Text))
	for _, v := range req.Voices {
		h.Write([]byte(v))
	}
	freq := 180 + float64(h.Sum32()%240)

	samples := make([]int16, n)
	for i := range samples {
		v := math.Sin(2 * math.Pi * freq * float64(i) / float64(rate))
		samples[i] = int16(v * 6000)
	}

	return &Clip{SampleRate: rate, Channels: 1, Samples: samples}, nil
}

func (m *mockEngine) Close() error { return nil }
