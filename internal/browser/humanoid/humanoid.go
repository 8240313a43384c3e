// internal/browser/humanoid/humanoid.go
package humanoid

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Humanoid defines the state and capabilities for simulating human like interactions.
type Humanoid struct {
	// mu protects all fields within the Humanoid struct from concurrent access.
	// Any method that reads or writes humanoid state (rng, currentPos, noise)
	// must acquire this lock.
	mu         sync.Mutex
	cfg        Config
	logger     *zap.Logger
	executor   Executor
	currentPos Vector2D
	rng        *rand.Rand
	noiseX     *PinkNoiseGenerator
	noiseY     *PinkNoiseGenerator
}

// Option configures a Humanoid.
type Option func(*Humanoid)

// WithProfile pins the pacing profile instead of deriving it from the wall clock.
func WithProfile(p Profile) Option {
	return func(h *Humanoid) {
		h.cfg.ProfileFunc = func() Profile { return p }
	}
}

// WithStartPosition sets the initial pointer position.
func WithStartPosition(p Vector2D) Option {
	return func(h *Humanoid) {
		h.currentPos = p
	}
}

// New creates and initializes a new Humanoid instance.
func New(cfg Config, logger *zap.Logger, executor Executor, opts ...Option) *Humanoid {
	if logger == nil {
		logger = zap.NewNop()
	}
	rng := cfg.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.ProfileFunc == nil {
		cfg.ProfileFunc = func() Profile { return ProfileFor(time.Now()) }
	}

	h := &Humanoid{
		cfg:        cfg,
		logger:     logger.Named("humanoid"),
		executor:   executor,
		rng:        rng,
		currentPos: Vector2D{X: 400, Y: 300},
	}
	h.noiseX = NewPinkNoiseGenerator(rng, 12)
	h.noiseY = NewPinkNoiseGenerator(rng, 12)

	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewTestHumanoid creates a Humanoid instance with deterministic dependencies for testing.
func NewTestHumanoid(executor Executor, seed int64, opts ...Option) *Humanoid {
	cfg := DefaultConfig()
	cfg.Rng = rand.New(rand.NewSource(seed))
	opts = append([]Option{WithProfile(BusinessProfile)}, opts...)
	return New(cfg, zap.NewNop(), executor, opts...)
}

// Profile returns the pacing profile in effect now.
func (h *Humanoid) Profile() Profile {
	return h.cfg.ProfileFunc()
}

// Position returns the last known pointer position.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos
}

// Enabled reports whether humanized pacing is switched on. When disabled the
// synthesizer still dispatches the same events but skips optional pauses.
func (h *Humanoid) Enabled() bool {
	return h.cfg.Enabled
}

var _ Controller = (*Humanoid)(nil)
