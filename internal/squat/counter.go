package squat

import (
	"fmt"

	"github.com/ayusman/gymbuddy/internal/pose"
)

// Feedback strings emitted by the counter.
const (
	FeedbackGoodDepth  = "Good depth"
	FeedbackIncomplete = "Incomplete pose detection"
)

// Thresholds are the hysteresis limits in degrees. Descent requires both
// angles below their maxima; ascent requires the knee above AscentKneeMin.
type Thresholds struct {
	DescentKneeMax float64 `yaml:"descent_knee_max" json:"descent_knee_max"`
	DescentHipMax  float64 `yaml:"descent_hip_max" json:"descent_hip_max"`
	AscentKneeMin  float64 `yaml:"ascent_knee_min" json:"ascent_knee_min"`
}

// DefaultThresholds returns the standard squat limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DescentKneeMax: 110,
		DescentHipMax:  120,
		AscentKneeMin:  160,
	}
}

// Validate checks that the thresholds leave a hysteresis band.
func (t Thresholds) Validate() error {
	if t.DescentKneeMax <= 0 || t.DescentHipMax <= 0 || t.AscentKneeMin <= 0 {
		return fmt.Errorf("squat thresholds must be positive: %+v", t)
	}
	if t.AscentKneeMin > 180 {
		return fmt.Errorf("ascent knee minimum %.1f exceeds 180", t.AscentKneeMin)
	}
	if t.AscentKneeMin <= t.DescentKneeMax {
		return fmt.Errorf("ascent knee minimum %.1f must exceed descent knee maximum %.1f",
			t.AscentKneeMin, t.DescentKneeMax)
	}
	return nil
}

// Stage is the counter's phase.
type Stage int

const (
	StageUp Stage = iota
	StageDown
)

func (s Stage) String() string {
	if s == StageDown {
		return "down"
	}
	return "up"
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stage name.
func (s *Stage) UnmarshalText(text []byte) error {
	switch string(text) {
	case "up":
		*s = StageUp
	case "down":
		*s = StageDown
	default:
		return fmt.Errorf("unknown squat stage %q", text)
	}
	return nil
}

// Event marks a state transition on a frame.
type Event int

const (
	EventNone Event = iota
	// EventDepth is the UP to DOWN transition.
	EventDepth
	// EventRep is the DOWN to UP transition that completes a rep.
	EventRep
	// EventIncomplete is a frame without a usable pose.
	EventIncomplete
)

func (e Event) String() string {
	switch e {
	case EventDepth:
		return "depth"
	case EventRep:
		return "rep"
	case EventIncomplete:
		return "incomplete"
	default:
		return "none"
	}
}

// Result is the counter output for one frame. Angles are zero when the pose
// was incomplete.
type Result struct {
	Reps      int
	Feedback  string
	Stage     Stage
	Event     Event
	KneeAngle float64
	HipAngle  float64
}

// Counter is the two-state squat repetition machine. It starts UP with zero
// reps and the count never decreases. A Counter belongs to one session and
// is not safe for concurrent use.
type Counter struct {
	thresholds Thresholds
	stage      Stage
	reps       int
}

// NewCounter creates a counter in the UP stage.
func NewCounter(t Thresholds) *Counter {
	return &Counter{thresholds: t, stage: StageUp}
}

// Reps returns the completed repetitions.
func (c *Counter) Reps() int {
	return c.reps
}

// Stage returns the current phase.
func (c *Counter) Stage() Stage {
	return c.stage
}

// Analyze advances the machine with one frame's pose. A nil pose reports
// FeedbackIncomplete and leaves the state alone.
func (c *Counter) Analyze(p *pose.ReducedPose) Result {
	if p == nil {
		return Result{
			Reps:     c.reps,
			Feedback: FeedbackIncomplete,
			Stage:    c.stage,
			Event:    EventIncomplete,
		}
	}

	knee := KneeAngle(p)
	hip := HipAngle(p)

	res := Result{KneeAngle: knee, HipAngle: hip}

	if knee < c.thresholds.DescentKneeMax && hip < c.thresholds.DescentHipMax && c.stage == StageUp {
		c.stage = StageDown
		res.Feedback = FeedbackGoodDepth
		res.Event = EventDepth
	}

	if knee > c.thresholds.AscentKneeMin && c.stage == StageDown {
		c.stage = StageUp
		c.reps++
		res.Feedback = fmt.Sprintf("Rep %d", c.reps)
		res.Event = EventRep
	}

	res.Reps = c.reps
	res.Stage = c.stage
	return res
}
