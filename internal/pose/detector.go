package pose

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/gymbuddy/internal/log"
)

// Provider is one pose-estimation backend.
type Provider interface {
	// Detect estimates the pose in a frame. An empty Estimate means no person
	// was found. Errors describe a failure on this frame only.
	Detect(frame *gocv.Mat) (Estimate, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Kind identifies a backend.
type Kind int

const (
	KindLocalCompact Kind = iota
	KindToolkitPrimary
	KindToolkitTaskGraph
	KindClassicalNetwork
	KindHeuristic
)

var kindNames = map[Kind]string{
	KindLocalCompact:     "movenet",
	KindToolkitPrimary:   "mediapipe",
	KindToolkitTaskGraph: "mediapipe_tasks",
	KindClassicalNetwork: "openpose",
	KindHeuristic:        "heuristic",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a backend name as used in configuration files.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown pose backend %q", name)
}

// DefaultOrder prefers small local models, then toolkit APIs, then the heavy
// classical network. The heuristic is always appended by the resolver.
var DefaultOrder = []Kind{
	KindLocalCompact,
	KindToolkitPrimary,
	KindToolkitTaskGraph,
	KindClassicalNetwork,
}

// Default download locations for the OpenPose COCO topology and weights.
var (
	DefaultOpenPoseProtoMirrors = []string{
		"https://raw.githubusercontent.com/opencv/opencv_extra/master/testdata/dnn/pose_deploy_linevec.prototxt",
	}
	DefaultOpenPoseWeightsMirrors = []string{
		"http://posefs1.perception.cs.cmu.edu/OpenPose/models/pose/coco/pose_iter_440000.caffemodel",
	}
)

// Default model asset mirrors for the MediaPipe task-graph backend.
var DefaultTaskModelMirrors = []string{
	"https://storage.googleapis.com/mediapipe-models/pose_landmarker/pose_landmarker_lite/float16/latest/pose_landmarker_lite.task",
	"https://storage.googleapis.com/mediapipe-tasks/python/pose_landmarker/lite/pose_landmarker_lite.task",
	"https://storage.googleapis.com/mediapipe-assets/pose_landmarker_lite.task",
}

// Config holds configuration options for pose estimation.
type Config struct {
	// Order is the backend priority list tried at session start.
	Order []Kind

	// MinKeypointScore gates joints before bilateral reduction (0.0-1.0).
	MinKeypointScore float64

	// MoveNetModel is the ONNX single-pose model for the local backend.
	MoveNetModel string
	// MoveNetInputSize is the square input resolution of that model.
	MoveNetInputSize int

	// OpenPoseProto and OpenPoseWeights are the Caffe topology and weights.
	OpenPoseProto   string
	OpenPoseWeights string
	// OpenPoseProtoMirrors and OpenPoseWeightsMirrors are tried in order
	// when the corresponding file is missing.
	OpenPoseProtoMirrors   []string
	OpenPoseWeightsMirrors []string
	// OpenPoseInputSize is the square forward-pass resolution.
	OpenPoseInputSize int
	// OpenPoseThreshold is the minimum heatmap peak accepted as a joint.
	OpenPoseThreshold float64

	// CascadePath is the Haar face cascade used by the heuristic backend.
	CascadePath string

	// TaskModel is the local path of the MediaPipe task asset.
	TaskModel string
	// TaskModelMirrors are tried in order when TaskModel is missing.
	TaskModelMirrors []string

	// HelperScript is the MediaPipe helper; empty means search the usual places.
	HelperScript string
	// Python is the interpreter; empty means a venv interpreter or python3.
	Python string
	// HelperStartTimeout bounds the helper's startup handshake.
	HelperStartTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Order:              append([]Kind(nil), DefaultOrder...),
		MinKeypointScore:   DefaultMinKeypointScore,
		MoveNetModel:       "models/movenet_singlepose_lightning.onnx",
		MoveNetInputSize:   192,
		OpenPoseProto:      "models/pose_deploy_linevec.prototxt",
		OpenPoseWeights:    "models/pose_iter_440000.caffemodel",
		OpenPoseInputSize:  368,
		OpenPoseThreshold:  0.1,
		CascadePath:        "models/haarcascade_frontalface_default.xml",
		TaskModel:          "models/pose_landmarker_lite.task",
		TaskModelMirrors:   append([]string(nil), DefaultTaskModelMirrors...),
		HelperStartTimeout: 20 * time.Second,

		OpenPoseProtoMirrors:   append([]string(nil), DefaultOpenPoseProtoMirrors...),
		OpenPoseWeightsMirrors: append([]string(nil), DefaultOpenPoseWeightsMirrors...),
	}
}

// Detector turns frames into reduced poses through the backend chosen at
// construction. It is meant for a single session and is not safe for
// concurrent use.
type Detector struct {
	provider Provider
	kind     Kind
	minScore float64
	logger   *slog.Logger
}

// NewDetector wraps an already-resolved provider.
func NewDetector(p Provider, kind Kind, minScore float64) *Detector {
	return &Detector{
		provider: p,
		kind:     kind,
		minScore: minScore,
		logger:   log.With("component", "pose.detector", "backend", kind.String()),
	}
}

// Backend returns the active backend.
func (d *Detector) Backend() Kind {
	return d.kind
}

// Detect returns the reduced pose for a frame in normalized coordinates, or
// nil when there is no usable pose. Per-frame failures are logged and
// reported as nil.
func (d *Detector) Detect(frame *gocv.Mat) *ReducedPose {
	if frame == nil || frame.Empty() {
		d.logger.Debug("skipping frame", "error", ErrEmptyFrame)
		return nil
	}

	est, err := d.provider.Detect(frame)
	if err != nil {
		d.logger.Debug("detection failed", "error", err)
		return nil
	}
	if est.Empty() {
		return nil
	}

	reduced := est.Reduced
	if reduced == nil {
		reduced = Reduce(est.Keypoints, d.minScore)
	}
	if reduced != nil && est.Unit == UnitPixel {
		reduced = reduced.Normalize(float64(frame.Cols()), float64(frame.Rows()))
	}
	return reduced
}

// Close releases the active provider.
func (d *Detector) Close() error {
	return d.provider.Close()
}
