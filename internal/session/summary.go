package session

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ayusman/gymbuddy/internal/store"
)

// Summary describes a stored session and its reps.
type Summary struct {
	Reps           int     `json:"reps"`
	Frames         int     `json:"frames"`
	DetectedFrames int     `json:"detected_frames"`
	DetectionRate  float64 `json:"detection_rate"`
	DurationMs     int64   `json:"duration_ms"`

	// Depth is the deepest knee angle per rep; lower is deeper.
	BestKneeAngle   float64 `json:"best_knee_angle,omitempty"`
	MeanKneeAngle   float64 `json:"mean_knee_angle,omitempty"`
	KneeAngleStdDev float64 `json:"knee_angle_stddev,omitempty"`
	MeanHipAngle    float64 `json:"mean_hip_angle,omitempty"`

	MeanRepMs   float64 `json:"mean_rep_ms,omitempty"`
	RepMsStdDev float64 `json:"rep_ms_stddev,omitempty"`
}

// Summarize computes summary statistics for a session.
func Summarize(s *store.Session, reps []*store.Rep) Summary {
	sum := Summary{
		Reps:           s.Reps,
		Frames:         s.Frames,
		DetectedFrames: s.DetectedFrames,
		DurationMs:     s.Duration().Round(time.Millisecond).Milliseconds(),
	}
	if s.Frames > 0 {
		sum.DetectionRate = float64(s.DetectedFrames) / float64(s.Frames)
	}
	if len(reps) == 0 {
		return sum
	}

	knees := make([]float64, len(reps))
	hips := make([]float64, len(reps))
	durations := make([]float64, len(reps))
	for i, r := range reps {
		knees[i] = r.MinKneeAngle
		hips[i] = r.MinHipAngle
		durations[i] = float64(r.Duration.Milliseconds())
	}

	sum.BestKneeAngle = floats.Min(knees)
	sum.MeanKneeAngle = stat.Mean(knees, nil)
	sum.MeanHipAngle = stat.Mean(hips, nil)
	sum.MeanRepMs = stat.Mean(durations, nil)

	// StdDev needs at least two samples
	if len(reps) > 1 {
		sum.KneeAngleStdDev = stat.StdDev(knees, nil)
		sum.RepMsStdDev = stat.StdDev(durations, nil)
	}
	return sum
}
