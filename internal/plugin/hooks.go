package plugin

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ayusman/gymbuddy/internal/log"
)

// Hooks fires subscribed plugins in the background. A plugin that is still
// running when its next event arrives misses that event, so a slow plugin
// never queues work behind the camera loop.
type Hooks struct {
	manager  *Manager
	executor *Executor
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// NewHooks creates Hooks over a discovered manager.
func NewHooks(m *Manager, e *Executor) *Hooks {
	return &Hooks{
		manager:  m,
		executor: e,
		logger:   log.With("component", "plugin.hooks"),
		running:  make(map[string]bool),
	}
}

// Fire starts every plugin subscribed to req.Event and returns the number
// started.
func (h *Hooks) Fire(ctx context.Context, req Request) int {
	started := 0
	for _, p := range h.manager.Subscribers(req.Event) {
		if !h.claim(p.Manifest.Name) {
			h.logger.Debug("plugin busy, skipping event", "plugin", p.Manifest.Name, "event", req.Event)
			continue
		}
		started++

		h.wg.Add(1)
		go func(p *Plugin) {
			defer h.wg.Done()
			defer h.release(p.Manifest.Name)

			r := req
			resp, err := h.executor.Execute(ctx, p, &r)
			if err != nil {
				h.logger.Warn("plugin failed", "plugin", p.Manifest.Name, "event", req.Event, "error", err)
				return
			}
			if !resp.Success {
				h.logger.Warn("plugin reported error", "plugin", p.Manifest.Name, "event", req.Event, "error", resp.Error)
				return
			}
			h.logger.Debug("plugin ran", "plugin", p.Manifest.Name, "event", req.Event)
		}(p)
	}
	return started
}

// Wait blocks until every started plugin has finished.
func (h *Hooks) Wait() {
	h.wg.Wait()
}

func (h *Hooks) claim(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running[name] {
		return false
	}
	h.running[name] = true
	return true
}

func (h *Hooks) release(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.running, name)
}
