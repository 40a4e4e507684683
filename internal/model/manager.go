package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/narratelabs/narrate-core/internal/engine"
)

// ErrUnknownVariant indicates a variant name missing from the registry.
var ErrUnknownVariant = errors.New("unknown model variant")

// ErrVariantBusy indicates an acquire that would require unloading a variant
// still held by another caller.
var ErrVariantBusy = errors.New("resident model variant is in use")

// LoadError is fatal to a run: the variant failed to load and residency is
// now empty. The manager never retries; the caller may re-acquire.
type LoadError struct {
	Variant string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model variant %q: %v", e.Variant, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader materializes an engine for a profile. Loading is expected to claim
// the entire accelerator memory budget; Close on the returned engine must
// release it.
type Loader func(ctx context.Context, profile Profile) (engine.Engine, error)

// Manager owns at most one loaded model variant at a time. All load, unload
// and reuse decisions happen under one exclusive lock, so two concurrent
// acquires can never both decide to load and two variants are never resident
// together, even transiently. The manager's lifetime is the process's, but
// it is constructed and passed explicitly rather than living in a global.
type Manager struct {
	mu     sync.Mutex
	loader Loader
	log    *slog.Logger

	current string
	eng     engine.Engine
	profile Profile
	holds   int
}

// NewManager builds a residency manager around loader.
func NewManager(loader Loader, log *slog.Logger) *Manager {
	return &Manager{
		loader: loader,
		log:    log.With(slog.String("component", "model-manager")),
	}
}

// Resident is a handle to the loaded variant. Release it when the run ends
// so ReleaseIfUnused can reclaim the accelerator.
type Resident struct {
	Profile Profile
	Engine  engine.Engine

	m        *Manager
	released bool
}

// Release drops the hold. Idempotent.
func (r *Resident) Release() {
	if r == nil || r.released {
		return
	}
	r.released = true
	r.m.mu.Lock()
	if r.m.holds > 0 {
		r.m.holds--
	}
	r.m.mu.Unlock()
}

// Acquire returns a handle to the requested variant, loading it first if
// needed. Acquiring the already-resident variant performs no load. Switching
// variants fully unloads the previous one before the new load starts; if
// that load fails, residency becomes "none", not the previous variant.
func (m *Manager) Acquire(ctx context.Context, variant string) (*Resident, error) {
	profile, err := LookupProfile(variant)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == variant && m.eng != nil {
		m.holds++
		return &Resident{Profile: m.profile, Engine: m.eng, m: m}, nil
	}

	if m.eng != nil {
		if m.holds > 0 {
			return nil, fmt.Errorf("%w: %q held by %d caller(s), cannot switch to %q",
				ErrVariantBusy, m.current, m.holds, variant)
		}
		m.unloadLocked()
	}

	m.log.Info("loading model variant",
		slog.String("variant", variant),
		slog.String("model_id", profile.ModelID),
		slog.String("backend", string(engine.DetectBackend())))

	eng, err := m.loader(ctx, profile)
	if err != nil {
		// Residency stays empty; no rollback to the prior variant.
		return nil, &LoadError{Variant: variant, Err: err}
	}

	m.current = variant
	m.eng = eng
	m.profile = profile
	m.holds = 1
	return &Resident{Profile: profile, Engine: eng, m: m}, nil
}

// Current reports the resident variant, if any.
func (m *Manager) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.eng != nil
}

// ReleaseIfUnused unloads the resident variant when no handles are held.
func (m *Manager) ReleaseIfUnused() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eng != nil && m.holds == 0 {
		m.unloadLocked()
	}
}

// Unload forces the resident variant out regardless of holds. Intended for
// process shutdown.
func (m *Manager) Unload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eng != nil {
		m.unloadLocked()
	}
}

func (m *Manager) unloadLocked() {
	m.log.Info("unloading model variant", slog.String("variant", m.current))
	if err := m.eng.Close(); err != nil {
		m.log.Warn("engine close failed", slog.String("error", err.Error()))
	}
	m.eng = nil
	m.current = ""
	m.profile = Profile{}
	m.holds = 0
}
