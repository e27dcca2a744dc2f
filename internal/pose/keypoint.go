// Package pose estimates body landmarks from video frames through a set of
// interchangeable backends and reduces them to the four joints used for
// squat analysis.
package pose

import "math"

// Joint names a body landmark in the 17-keypoint COCO vocabulary.
type Joint string

// Body landmarks following the COCO / MoveNet ordering.
const (
	Nose          Joint = "nose"
	LeftEye       Joint = "left_eye"
	RightEye      Joint = "right_eye"
	LeftEar       Joint = "left_ear"
	RightEar      Joint = "right_ear"
	LeftShoulder  Joint = "left_shoulder"
	RightShoulder Joint = "right_shoulder"
	LeftElbow     Joint = "left_elbow"
	RightElbow    Joint = "right_elbow"
	LeftWrist     Joint = "left_wrist"
	RightWrist    Joint = "right_wrist"
	LeftHip       Joint = "left_hip"
	RightHip      Joint = "right_hip"
	LeftKnee      Joint = "left_knee"
	RightKnee     Joint = "right_knee"
	LeftAnkle     Joint = "left_ankle"
	RightAnkle    Joint = "right_ankle"
)

// NumJoints is the size of the keypoint vocabulary.
const NumJoints = 17

// Joints lists the vocabulary in model output order.
var Joints = [NumJoints]Joint{
	Nose, LeftEye, RightEye, LeftEar, RightEar,
	LeftShoulder, RightShoulder, LeftElbow, RightElbow,
	LeftWrist, RightWrist, LeftHip, RightHip,
	LeftKnee, RightKnee, LeftAnkle, RightAnkle,
}

// IsJoint reports whether name belongs to the vocabulary.
func IsJoint(name string) bool {
	for _, j := range Joints {
		if string(j) == name {
			return true
		}
	}
	return false
}

// Unit declares how a provider expresses coordinates.
type Unit int

const (
	// UnitNormalized coordinates lie in [0,1] relative to frame width/height.
	UnitNormalized Unit = iota
	// UnitPixel coordinates are raw pixel positions in the source frame.
	UnitPixel
)

func (u Unit) String() string {
	if u == UnitPixel {
		return "pixel"
	}
	return "normalized"
}

// Point is a 2D location.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Midpoint returns the point halfway between p and q.
func (p Point) Midpoint(q Point) Point {
	return Point{X: (p.X + q.X) / 2, Y: (p.Y + q.Y) / 2}
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Keypoint is a scored joint location.
type Keypoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Score float64 `json:"score"`
}

// Point drops the score.
func (k Keypoint) Point() Point {
	return Point{X: k.X, Y: k.Y}
}

// KeypointSet maps joints to keypoints. Joints that were not detected are
// absent from the map; a zero score never stands in for "missing".
type KeypointSet map[Joint]Keypoint

// Part names one of the four joints the squat analysis consumes.
type Part string

const (
	PartShoulder Part = "shoulder"
	PartHip      Part = "hip"
	PartKnee     Part = "knee"
	PartAnkle    Part = "ankle"
)

// ReducedPose holds the bilateral midpoints used by the rep counter.
// A ReducedPose always carries all four joints; a frame without one of them
// has no ReducedPose at all (nil).
type ReducedPose struct {
	Shoulder Point `json:"shoulder"`
	Hip      Point `json:"hip"`
	Knee     Point `json:"knee"`
	Ankle    Point `json:"ankle"`
}

// ReducedFromJoints builds a ReducedPose from a part map.
// It returns nil unless all four parts are present.
func ReducedFromJoints(parts map[Part]Point) *ReducedPose {
	shoulder, ok1 := parts[PartShoulder]
	hip, ok2 := parts[PartHip]
	knee, ok3 := parts[PartKnee]
	ankle, ok4 := parts[PartAnkle]
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}
	return &ReducedPose{Shoulder: shoulder, Hip: hip, Knee: knee, Ankle: ankle}
}

// Normalize converts pixel coordinates to [0,1] using the frame size.
// Returns a new ReducedPose; p is not modified.
func (p *ReducedPose) Normalize(width, height float64) *ReducedPose {
	if p == nil {
		return nil
	}
	if width <= 0 || height <= 0 {
		return p
	}
	scale := func(pt Point) Point {
		return Point{X: pt.X / width, Y: pt.Y / height}
	}
	return &ReducedPose{
		Shoulder: scale(p.Shoulder),
		Hip:      scale(p.Hip),
		Knee:     scale(p.Knee),
		Ankle:    scale(p.Ankle),
	}
}

// Estimate is one provider's output for one frame. Exactly one of Keypoints
// or Reduced is set for a detection; both are empty when nothing was found.
type Estimate struct {
	Unit      Unit
	Keypoints KeypointSet
	Reduced   *ReducedPose
}

// Empty reports whether the estimate carries no detection.
func (e Estimate) Empty() bool {
	return e.Reduced == nil && len(e.Keypoints) == 0
}
