package pose

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// Heatmap channels of the OpenPose COCO body model.
const (
	cocoRShoulder = 2
	cocoRHip      = 8
	cocoRKnee     = 9
	cocoRAnkle    = 10
	cocoLShoulder = 5
	cocoLHip      = 11
	cocoLKnee     = 12
	cocoLAnkle    = 13
)

var openPosePairs = [...]struct {
	part        Part
	right, left int
}{
	{PartShoulder, cocoRShoulder, cocoLShoulder},
	{PartHip, cocoRHip, cocoLHip},
	{PartKnee, cocoRKnee, cocoLKnee},
	{PartAnkle, cocoRAnkle, cocoLAnkle},
}

// OpenPose runs the OpenPose COCO Caffe model through the OpenCV DNN module
// and decodes joint heatmaps by their peak. Pairs are averaged while
// decoding, so the output is already a ReducedPose.
type OpenPose struct {
	net       gocv.Net
	inputSize image.Point
	threshold float64
	mu        sync.Mutex
}

// NewOpenPose loads the prototxt topology and caffemodel weights.
func NewOpenPose(protoPath, weightsPath string, inputSize int, threshold float64) (*OpenPose, error) {
	for _, p := range []string{protoPath, weightsPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, p)
		}
	}
	if inputSize <= 0 {
		inputSize = 368
	}

	net := gocv.ReadNetFromCaffe(protoPath, weightsPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load OpenPose model from %s", weightsPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &OpenPose{
		net:       net,
		inputSize: image.Pt(inputSize, inputSize),
		threshold: threshold,
	}, nil
}

// Detect runs one forward pass and decodes the four joint pairs.
func (o *OpenPose) Detect(frame *gocv.Mat) (Estimate, error) {
	if frame == nil || frame.Empty() {
		return Estimate{}, ErrEmptyFrame
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	blob := gocv.BlobFromImage(*frame, 1.0/255.0, o.inputSize, gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	o.net.SetInput(blob, "")
	output := o.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 4 {
		return Estimate{}, fmt.Errorf("openpose output has %d dims, want 4", len(dims))
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return Estimate{}, fmt.Errorf("read openpose output: %w", err)
	}

	h := heatmaps{data: data, channels: dims[1], rows: dims[2], cols: dims[3]}
	reduced := h.reduce(o.threshold)
	if reduced == nil {
		return Estimate{}, nil
	}
	return Estimate{Unit: UnitNormalized, Reduced: reduced}, nil
}

// Close releases the network.
func (o *OpenPose) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.net.Close()
}

// heatmaps views a [1, C, H, W] confidence tensor.
type heatmaps struct {
	data       []float32
	channels   int
	rows, cols int
}

// peak returns the arg-max of channel c in normalized coordinates, gated by
// threshold.
func (h heatmaps) peak(c int, threshold float64) side {
	if c >= h.channels {
		return side{}
	}
	plane := h.rows * h.cols
	start := c * plane
	if start+plane > len(h.data) {
		return side{}
	}

	best, bestIdx := float32(-1), -1
	for i, v := range h.data[start : start+plane] {
		if v > best {
			best, bestIdx = v, i
		}
	}
	if bestIdx < 0 || float64(best) <= threshold {
		return side{}
	}

	x := float64(bestIdx%h.cols) / float64(h.cols)
	y := float64(bestIdx/h.cols) / float64(h.rows)
	return side{pt: Point{X: x, Y: y}, ok: true}
}

func (h heatmaps) reduce(threshold float64) *ReducedPose {
	parts := make(map[Part]Point, len(openPosePairs))
	for _, pair := range openPosePairs {
		s := combine(h.peak(pair.left, threshold), h.peak(pair.right, threshold))
		if !s.ok {
			return nil
		}
		parts[pair.part] = s.pt
	}
	return ReducedFromJoints(parts)
}
