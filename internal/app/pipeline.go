package app

import (
	"context"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/gymbuddy/internal/plugin"
	"github.com/ayusman/gymbuddy/internal/session"
	"github.com/ayusman/gymbuddy/internal/squat"
)

// runPipeline is the main loop that processes frames from the camera.
//
// It starts at IdleFPS and skips pose detection until the motion detector
// fires, then switches to ActiveFPS and feeds every frame to the camera
// session. After IdleTimeout without motion it drops back to idle.
func (a *App) runPipeline(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	activeMode := false
	lastMotionTime := time.Now()

	ticker := time.NewTicker(time.Second / IdleFPS)
	defer ticker.Stop()

	setMode := func(active bool) {
		activeMode = active
		fps := IdleFPS
		if active {
			fps = ActiveFPS
		}
		a.camera.SetFPS(fps)
		ticker.Reset(time.Second / time.Duration(fps))
		a.logger.Debug("pipeline mode changed", "active", active, "fps", fps)
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		if !a.IsEnabled() {
			continue
		}

		frame, err := a.camera.ReadFrame()
		if err != nil {
			a.logger.Debug("error reading frame", "error", err)
			continue
		}

		moving, _ := a.motion.Detect(frame)
		switch {
		case moving:
			lastMotionTime = time.Now()
			if !activeMode {
				setMode(true)
			}
		case activeMode && time.Since(lastMotionTime) > IdleTimeout:
			setMode(false)
		}

		if activeMode {
			a.ProcessFrame(frame)
		}
		frame.Close()
	}
}

// ProcessFrame runs one camera frame through the coaching session, then
// publishes telemetry and fires hooks for depth and rep events.
func (a *App) ProcessFrame(frame *gocv.Mat) session.Frame {
	a.sessMu.Lock()
	f := a.currentSession().Step(frame)
	a.last = f
	a.sessMu.Unlock()

	if a.config.Live != nil {
		a.config.Live.Publish(f)
	}

	var event string
	switch f.Event {
	case squat.EventDepth:
		event = plugin.EventDepth
	case squat.EventRep:
		event = plugin.EventRep
		a.mu.RLock()
		onRep := a.onRep
		a.mu.RUnlock()
		if onRep != nil {
			onRep(f)
		}
	default:
		return f
	}

	a.hooks.Fire(context.Background(), plugin.Request{
		Event:     event,
		SessionID: f.SessionID,
		Reps:      f.Reps,
		Feedback:  f.Feedback,
		KneeAngle: f.KneeAngle,
		HipAngle:  f.HipAngle,
	})
	return f
}
