package pose

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// MoveNet runs a MoveNet single-pose ONNX model through the OpenCV DNN
// module. Output is the full 17-joint vocabulary in normalized units.
type MoveNet struct {
	net       gocv.Net
	inputSize image.Point
	mu        sync.Mutex
}

// NewMoveNet loads the model at modelPath.
func NewMoveNet(modelPath string, inputSize int) (*MoveNet, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelPath)
	}
	if inputSize <= 0 {
		inputSize = 192
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load MoveNet model from %s", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &MoveNet{
		net:       net,
		inputSize: image.Pt(inputSize, inputSize),
	}, nil
}

// Detect runs one forward pass.
func (m *MoveNet) Detect(frame *gocv.Mat) (Estimate, error) {
	if frame == nil || frame.Empty() {
		return Estimate{}, ErrEmptyFrame
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	blob := gocv.BlobFromImage(*frame, 1.0/255.0, m.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return Estimate{}, fmt.Errorf("read movenet output: %w", err)
	}
	return decodeMoveNet(data)
}

// decodeMoveNet parses the [1,1,17,3] output tensor. The model emits
// (row, col, score) so the first two values are swapped into (x, y).
func decodeMoveNet(data []float32) (Estimate, error) {
	if len(data) < NumJoints*3 {
		return Estimate{}, fmt.Errorf("movenet output has %d values, want %d", len(data), NumJoints*3)
	}

	set := make(KeypointSet, NumJoints)
	for i, joint := range Joints {
		y := float64(data[i*3])
		x := float64(data[i*3+1])
		score := float64(data[i*3+2])
		set[joint] = Keypoint{X: x, Y: y, Score: score}
	}
	return Estimate{Unit: UnitNormalized, Keypoints: set}, nil
}

// Close releases the network.
func (m *MoveNet) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}
