// Package session ties a pose detector and a rep counter together for one
// client, and records the outcome in the session history.
package session

import (
	"errors"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/gymbuddy/internal/pose"
	"github.com/ayusman/gymbuddy/internal/squat"
	"github.com/ayusman/gymbuddy/internal/store"
)

// InvalidImageMessage is the error text for frames that could not be decoded.
const InvalidImageMessage = "Invalid image data"

// Result is the per-frame record sent back to clients.
type Result struct {
	Detected bool   `json:"detected"`
	Reps     int    `json:"reps"`
	Feedback string `json:"feedback"`
	Error    string `json:"error,omitempty"`
}

// Frame is a Result plus the analysis details behind it.
type Frame struct {
	Result
	SessionID string            `json:"session_id"`
	Backend   string            `json:"backend"`
	Stage     squat.Stage       `json:"stage"`
	KneeAngle float64           `json:"knee_angle,omitempty"`
	HipAngle  float64           `json:"hip_angle,omitempty"`
	Pose      *pose.ReducedPose `json:"pose,omitempty"`
	Event     squat.Event       `json:"-"`
	At        time.Time         `json:"at"`
}

// Stats are the running counters of a session.
type Stats struct {
	Frames         int
	DetectedFrames int
	Reps           int
	StartedAt      time.Time
}

// Session owns one detector and one counter. It serves a single client and
// is not safe for concurrent use.
type Session struct {
	id       string
	source   store.Source
	detector *pose.Detector
	counter  *squat.Counter
	factory  *Factory
	logger   *slog.Logger
	now      func() time.Time

	started  time.Time
	frames   int
	detected int
	persist  bool
	closed   bool

	rep repTracker
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Backend returns the pose backend chosen for this session.
func (s *Session) Backend() pose.Kind {
	return s.detector.Backend()
}

// Reps returns the completed repetitions so far.
func (s *Session) Reps() int {
	return s.counter.Reps()
}

// Stats returns the running counters.
func (s *Session) Stats() Stats {
	return Stats{
		Frames:         s.frames,
		DetectedFrames: s.detected,
		Reps:           s.counter.Reps(),
		StartedAt:      s.started,
	}
}

// Process analyses one decoded frame and returns the client record.
func (s *Session) Process(frame *gocv.Mat) Result {
	return s.Step(frame).Result
}

// Step analyses one decoded frame. A frame without a usable pose has
// Detected false and leaves the counter unchanged.
func (s *Session) Step(frame *gocv.Mat) Frame {
	now := s.now()
	s.frames++

	p := s.detector.Detect(frame)
	res := s.counter.Analyze(p)

	f := Frame{
		Result: Result{
			Detected: p != nil,
			Reps:     res.Reps,
			Feedback: res.Feedback,
		},
		SessionID: s.id,
		Backend:   s.Backend().String(),
		Stage:     res.Stage,
		KneeAngle: res.KneeAngle,
		HipAngle:  res.HipAngle,
		Pose:      p,
		Event:     res.Event,
		At:        now,
	}
	if p == nil {
		return f
	}
	s.detected++

	if rep, ok := s.rep.observe(res, s.factory.thresholds, now); ok {
		s.recordRep(rep)
	}
	return f
}

// Invalid records a frame that could not be decoded and returns the client
// record for it. An empty reason becomes InvalidImageMessage.
func (s *Session) Invalid(reason string) Frame {
	s.frames++
	if reason == "" {
		reason = InvalidImageMessage
	}
	return Frame{
		Result: Result{
			Detected: false,
			Reps:     s.counter.Reps(),
			Error:    reason,
		},
		SessionID: s.id,
		Backend:   s.Backend().String(),
		Stage:     s.counter.Stage(),
		At:        s.now(),
	}
}

func (s *Session) recordRep(rep store.Rep) {
	s.logger.Info("rep completed",
		"rep", rep.Number,
		"min_knee_angle", rep.MinKneeAngle,
		"min_hip_angle", rep.MinHipAngle,
		"duration", rep.Duration,
	)
	if !s.persist {
		return
	}
	rep.SessionID = s.id
	if err := s.factory.store.Reps().Add(&rep); err != nil {
		s.logger.Warn("failed to save rep", "rep", rep.Number, "error", err)
	}
}

// Close releases the detector and stores the session summary. It is safe to
// call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.factory.release()

	var errs []error
	if err := s.detector.Close(); err != nil {
		errs = append(errs, err)
	}

	if s.persist {
		ended := s.now()
		rec := &store.Session{
			ID:             s.id,
			Reps:           s.counter.Reps(),
			Frames:         s.frames,
			DetectedFrames: s.detected,
			EndedAt:        &ended,
		}
		if err := s.factory.store.Sessions().Finish(rec); err != nil {
			s.logger.Warn("failed to save session summary", "error", err)
			errs = append(errs, err)
		}
	}

	s.logger.Info("session closed",
		"reps", s.counter.Reps(),
		"frames", s.frames,
		"detected_frames", s.detected,
		"duration", s.now().Sub(s.started).Round(time.Millisecond),
	)
	return errors.Join(errs...)
}

// repTracker follows one repetition from standing through the bottom
// position and back, keeping the deepest angles seen.
type repTracker struct {
	standingAt time.Time
	start      time.Time
	minKnee    float64
	minHip     float64
	inRep      bool
}

func (t *repTracker) observe(res squat.Result, th squat.Thresholds, now time.Time) (store.Rep, bool) {
	switch res.Event {
	case squat.EventDepth:
		t.inRep = true
		t.start = t.standingAt
		if t.start.IsZero() {
			t.start = now
		}
		t.minKnee, t.minHip = res.KneeAngle, res.HipAngle
		return store.Rep{}, false

	case squat.EventRep:
		rep := store.Rep{
			Number:       res.Reps,
			MinKneeAngle: t.minKnee,
			MinHipAngle:  t.minHip,
			Duration:     now.Sub(t.start),
			CompletedAt:  now,
		}
		t.inRep = false
		t.standingAt = now
		return rep, true
	}

	if t.inRep {
		t.minKnee = min(t.minKnee, res.KneeAngle)
		t.minHip = min(t.minHip, res.HipAngle)
	} else if res.Stage == squat.StageUp && res.KneeAngle > th.AscentKneeMin {
		t.standingAt = now
	}
	return store.Rep{}, false
}
