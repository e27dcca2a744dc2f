package pose

import (
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// Joint offsets below the top of the face, in face heights.
const (
	faceShoulderOffset = 1.5
	faceHipOffset      = 4.0
	faceKneeOffset     = 6.0
	faceAnkleOffset    = 8.0
)

// staticPose is returned when no face is found: a standing figure centred in
// the frame.
var staticPose = ReducedPose{
	Shoulder: Point{X: 0.5, Y: 0.25},
	Hip:      Point{X: 0.5, Y: 0.50},
	Knee:     Point{X: 0.5, Y: 0.75},
	Ankle:    Point{X: 0.5, Y: 0.95},
}

// Heuristic guesses body joints from a detected face, or returns a static
// standing pose. It trades accuracy for always being available.
type Heuristic struct {
	cascade gocv.CascadeClassifier
	loaded  bool
	mu      sync.Mutex
}

// NewHeuristic creates the fallback backend. It never fails: without a
// loadable cascade every frame gets the static pose.
func NewHeuristic(cascadePath string) *Heuristic {
	h := &Heuristic{cascade: gocv.NewCascadeClassifier()}
	if cascadePath == "" {
		return h
	}
	if _, err := os.Stat(cascadePath); err != nil {
		return h
	}
	h.loaded = h.cascade.Load(cascadePath)
	return h
}

// Detect returns the face-derived or static pose.
func (h *Heuristic) Detect(frame *gocv.Mat) (Estimate, error) {
	if frame == nil || frame.Empty() {
		return Estimate{}, ErrEmptyFrame
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.loaded {
		if face, ok := h.largestFace(frame); ok {
			return Estimate{Unit: UnitPixel, Reduced: poseBelowFace(face, frame.Rows())}, nil
		}
	}

	static := staticPose
	return Estimate{Unit: UnitNormalized, Reduced: &static}, nil
}

func (h *Heuristic) largestFace(frame *gocv.Mat) (image.Rectangle, bool) {
	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	faces := h.cascade.DetectMultiScale(gray)
	var best image.Rectangle
	for _, f := range faces {
		if f.Dx()*f.Dy() > best.Dx()*best.Dy() {
			best = f
		}
	}
	return best, !best.Empty()
}

// poseBelowFace places joints at fixed multiples of face height below the
// face, centred horizontally on it and clamped to the frame.
func poseBelowFace(face image.Rectangle, rows int) *ReducedPose {
	x := float64(face.Min.X+face.Max.X) / 2
	top := float64(face.Min.Y)
	fh := float64(face.Dy())
	maxY := float64(rows - 1)

	at := func(offset float64) Point {
		y := top + offset*fh
		if y > maxY {
			y = maxY
		}
		return Point{X: x, Y: y}
	}
	return &ReducedPose{
		Shoulder: at(faceShoulderOffset),
		Hip:      at(faceHipOffset),
		Knee:     at(faceKneeOffset),
		Ankle:    at(faceAnkleOffset),
	}
}

// Close releases the cascade.
func (h *Heuristic) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cascade.Close()
}
