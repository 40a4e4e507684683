package model

import "fmt"

// Profile is the static configuration for one inference model variant.
// Profiles are read-only and defined at process start.
type Profile struct {
	Variant        string  `json:"variant"`
	ModelID        string  `json:"model_id"`
	ContextTokens  int     `json:"context_tokens"`
	MaxDurationMin int     `json:"max_duration_minutes"`
	MaxSpeakers    int     `json:"max_speakers"`
	MemoryGB       float64 `json:"memory_gb"`
}

// Variant names. Full handles long-form multi-speaker generation; preview is
// the small single-speaker model for low-latency synthesis.
const (
	VariantFull    = "full"
	VariantPreview = "preview"
)

var profiles = map[string]Profile{
	VariantFull: {
		Variant:        VariantFull,
		ModelID:        "vibevoice-community/VibeVoice-1.5B",
		ContextTokens:  64000,
		MaxDurationMin: 90,
		MaxSpeakers:    4,
		MemoryGB:       7.5,
	},
	VariantPreview: {
		Variant:        VariantPreview,
		ModelID:        "microsoft/VibeVoice-Realtime-0.5B",
		ContextTokens:  8000,
		MaxDurationMin: 10,
		MaxSpeakers:    1,
		MemoryGB:       4.0,
	},
}

// LookupProfile resolves a variant name.
func LookupProfile(variant string) (Profile, error) {
	p, ok := profiles[variant]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
	return p, nil
}

// Profiles returns all known variants.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	return out
}
