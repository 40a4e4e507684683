package audio

import (
	"fmt"
	"os"
	"path/filepath"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCM holds interleaved 16-bit samples.
type PCM struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// DurationSeconds returns the clip length in seconds.
func (p *PCM) DurationSeconds() float64 {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate*p.Channels)
}

// ReadWAV decodes a 16-bit PCM WAV file.
func ReadWAV(path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav %s: %w", path, err)
	}
	if d.BitDepth != 16 {
		return nil, fmt.Errorf("wav %s: unsupported bit depth %d, want 16", path, d.BitDepth)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return &PCM{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		Samples:    samples,
	}, nil
}

// WriteWAV encodes p as a 16-bit PCM WAV file, creating parent directories
// as needed.
func WriteWAV(path string, p *PCM) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	enc := wav.NewEncoder(f, p.SampleRate, 16, p.Channels, 1)
	data := make([]int, len(p.Samples))
	for i, s := range p.Samples {
		data[i] = int(s)
	}
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: p.Channels, SampleRate: p.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encode wav %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize wav %s: %w", path, err)
	}
	return f.Close()
}
