package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/gymbuddy/internal/log"
	"github.com/ayusman/gymbuddy/internal/pose"
	"github.com/ayusman/gymbuddy/internal/squat"
	"github.com/ayusman/gymbuddy/internal/store"
)

// ResolveFunc picks the pose backend for a new session.
type ResolveFunc func(ctx context.Context) (pose.Provider, pose.Kind)

// Config holds the settings shared by every session.
type Config struct {
	Pose       pose.Config
	Thresholds squat.Thresholds
	// Store receives session history; nil disables persistence.
	Store *store.Store
	// Assets caches model downloads across sessions; nil creates one.
	Assets *pose.AssetCache
	// Resolve overrides backend resolution, mainly for tests.
	Resolve ResolveFunc
}

// Factory creates sessions. It is long-lived and safe for concurrent use;
// the sessions it creates are not.
type Factory struct {
	cfg        Config
	thresholds squat.Thresholds
	store      *store.Store
	assets     *pose.AssetCache
	resolve    ResolveFunc
	now        func() time.Time

	mu     sync.Mutex
	active int
	total  int
}

// NewFactory creates a session factory.
func NewFactory(cfg Config) *Factory {
	f := &Factory{
		cfg:        cfg,
		thresholds: cfg.Thresholds,
		store:      cfg.Store,
		assets:     cfg.Assets,
		resolve:    cfg.Resolve,
		now:        time.Now,
	}
	if f.assets == nil {
		f.assets = pose.NewAssetCache(nil)
	}
	if f.resolve == nil {
		f.resolve = f.resolveBackend
	}
	return f
}

func (f *Factory) resolveBackend(ctx context.Context) (pose.Provider, pose.Kind) {
	return pose.Resolve(ctx, pose.Candidates(f.cfg.Pose, f.assets), func() pose.Provider {
		return pose.NewHeuristic(f.cfg.Pose.CascadePath)
	})
}

// NewSession resolves a pose backend and starts a session. Backend
// resolution may block while models load. NewSession never fails: a store
// error only disables history for the session.
func (f *Factory) NewSession(ctx context.Context, source store.Source) *Session {
	provider, kind := f.resolve(ctx)

	minScore := f.cfg.Pose.MinKeypointScore
	s := &Session{
		id:       uuid.New().String(),
		source:   source,
		detector: pose.NewDetector(provider, kind, minScore),
		counter:  squat.NewCounter(f.thresholds),
		factory:  f,
		now:      f.now,
		started:  f.now(),
	}
	s.logger = log.With("component", "session", "session_id", s.id, "source", string(source))

	if f.store != nil {
		rec := &store.Session{
			ID:        s.id,
			Source:    source,
			Backend:   kind.String(),
			StartedAt: s.started,
		}
		if err := f.store.Sessions().Create(rec); err != nil {
			s.logger.Warn("session history disabled", "error", err)
		} else {
			s.persist = true
		}
	}

	f.mu.Lock()
	f.active++
	f.total++
	f.mu.Unlock()

	s.logger.Info("session started", "backend", kind.String())
	return s
}

func (f *Factory) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active > 0 {
		f.active--
	}
}

// Active returns the number of open sessions.
func (f *Factory) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Total returns the number of sessions created.
func (f *Factory) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// Thresholds returns the squat thresholds given to new counters.
func (f *Factory) Thresholds() squat.Thresholds {
	return f.thresholds
}

// Store returns the history store, which may be nil.
func (f *Factory) Store() *store.Store {
	return f.store
}
