// Package app runs local camera coaching: frames from the camera pass a
// motion gate, feed one coaching session, and fire plugin hooks on depth
// and completed reps.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/gymbuddy/internal/capture"
	"github.com/ayusman/gymbuddy/internal/log"
	"github.com/ayusman/gymbuddy/internal/plugin"
	"github.com/ayusman/gymbuddy/internal/session"
	"github.com/ayusman/gymbuddy/internal/store"
)

// Pipeline timing constants.
const (
	// IdleFPS is the frame rate when no motion is detected.
	IdleFPS = 5
	// ActiveFPS is the frame rate while the lifter is moving.
	ActiveFPS = 15
	// IdleTimeout is how long without motion before dropping back to IdleFPS.
	IdleTimeout = 2 * time.Second
)

// FrameSink receives per-frame telemetry.
type FrameSink interface {
	Publish(v any)
}

// Config holds configuration options for the application.
type Config struct {
	Factory       *session.Factory
	Store         *store.Store
	PluginDir     string
	PluginTimeout time.Duration
	MotionThresh  float64
	// Capture selects the device camera when Camera is nil.
	Capture capture.Settings
	// Camera overrides the device camera, mainly for tests.
	Camera capture.Camera
	// Live receives every analysed frame; may be nil.
	Live FrameSink
}

// App is the local coaching application.
type App struct {
	config    Config
	camera    capture.Camera
	motion    *capture.MotionDetector
	factory   *session.Factory
	pluginMgr *plugin.Manager
	hooks     *plugin.Hooks
	logger    *slog.Logger

	mu      sync.RWMutex
	enabled bool
	stopCh  chan struct{}
	done    chan struct{}
	onRep   func(session.Frame)

	// session is owned by the pipeline goroutine and guarded by sessMu.
	sessMu  sync.Mutex
	session *session.Session
	last    session.Frame
}

// New creates a new App. Coaching starts enabled or disabled according to
// the stored setting.
func New(config Config) *App {
	motionThreshold := config.MotionThresh
	if motionThreshold <= 0 {
		motionThreshold = 1.0 // 1% pixel change
	}

	cam := config.Camera
	if cam == nil {
		cam = capture.NewCamera(config.Capture)
	}

	mgr := plugin.NewManager(config.PluginDir)
	a := &App{
		config:    config,
		camera:    cam,
		motion:    capture.NewMotionDetector(motionThreshold),
		factory:   config.Factory,
		pluginMgr: mgr,
		hooks:     plugin.NewHooks(mgr, plugin.NewExecutor(config.PluginTimeout)),
		logger:    log.With("component", "app"),
	}

	if config.Store != nil {
		a.enabled = config.Store.Settings().GetBool(store.SettingCoachingEnabled, false)
	}

	return a
}

// SetEnabled turns camera coaching on or off and stores the choice.
// Turning it off ends the current camera session.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	changed := a.enabled != enabled
	a.enabled = enabled
	a.mu.Unlock()

	if a.config.Store != nil {
		if err := a.config.Store.Settings().SetBool(store.SettingCoachingEnabled, enabled); err != nil {
			a.logger.Warn("failed to store coaching setting", "error", err)
		}
	}

	if changed {
		a.logger.Info("coaching toggled", "enabled", enabled)
	}
	if !enabled {
		a.endSession()
		a.motion.Reset()
	}
}

// IsEnabled returns whether camera coaching is enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// OnRep sets a callback run after every completed rep.
func (a *App) OnRep(fn func(session.Frame)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onRep = fn
}

// DiscoverPlugins scans the plugin directory and loads available plugins.
func (a *App) DiscoverPlugins() error {
	return a.pluginMgr.Discover()
}

// Start opens the camera and begins the coaching pipeline.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}

	if err := a.camera.Open(); err != nil {
		return err
	}
	a.camera.SetFPS(IdleFPS)

	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})
	go a.runPipeline(a.stopCh, a.done)

	a.logger.Info("coaching pipeline started", "camera", a.config.Capture.Device)
	return nil
}

// Stop halts the pipeline, ends the camera session and releases resources.
func (a *App) Stop() {
	a.mu.Lock()
	stopCh, done := a.stopCh, a.done
	a.stopCh, a.done = nil, nil
	a.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-done
	}

	a.endSession()

	if err := a.camera.Close(); err != nil {
		a.logger.Warn("error closing camera", "error", err)
	}
	a.motion.Close()
	a.hooks.Wait()

	a.logger.Info("coaching pipeline stopped")
}

// LastFrame returns the most recent analysed camera frame.
func (a *App) LastFrame() session.Frame {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	return a.last
}

// Camera returns the camera instance.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// MotionDetector returns the motion detector instance.
func (a *App) MotionDetector() *capture.MotionDetector {
	return a.motion
}

// PluginManager returns the plugin manager.
func (a *App) PluginManager() *plugin.Manager {
	return a.pluginMgr
}

// Hooks returns the plugin hook dispatcher.
func (a *App) Hooks() *plugin.Hooks {
	return a.hooks
}

func (a *App) currentSession() *session.Session {
	if a.session == nil {
		a.session = a.factory.NewSession(context.Background(), store.SourceCamera)
	}
	return a.session
}

func (a *App) endSession() {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()

	if a.session == nil {
		return
	}
	if err := a.session.Close(); err != nil {
		a.logger.Warn("error closing camera session", "error", err)
	}
	a.session = nil
}
