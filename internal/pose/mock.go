package pose

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockProvider is a test implementation of the Provider interface.
// It allows tests to control the detection results.
type MockProvider struct {
	mu       sync.Mutex
	estimate Estimate
	queue    []Estimate
	err      error
	calls    int
	closed   bool
}

// NewMockProvider creates a new MockProvider instance.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// SetEstimate sets the estimate that will be returned by Detect.
func (m *MockProvider) SetEstimate(est Estimate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimate = est
}

// Enqueue queues estimates returned one per Detect call before falling back
// to the estimate set with SetEstimate.
func (m *MockProvider) Enqueue(ests ...Estimate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, ests...)
}

// SetError sets the error that will be returned by Detect.
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the pre-configured estimate or error.
func (m *MockProvider) Detect(frame *gocv.Mat) (Estimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return Estimate{}, m.err
	}
	if len(m.queue) > 0 {
		est := m.queue[0]
		m.queue = m.queue[1:]
		return est, nil
	}
	return m.estimate, nil
}

// Calls returns how many times Detect was called.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockProvider) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the mock as closed.
func (m *MockProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// StandingPose returns a reduced pose of an upright person: knee and hip
// angles are both 180 degrees.
func StandingPose() *ReducedPose {
	return &ReducedPose{
		Shoulder: Point{X: 0.5, Y: 0.2},
		Hip:      Point{X: 0.5, Y: 0.5},
		Knee:     Point{X: 0.5, Y: 0.7},
		Ankle:    Point{X: 0.5, Y: 0.9},
	}
}

// SquatPose returns a reduced pose at the bottom of a squat: the knee angle
// is 90 degrees and the hip angle about 79 degrees.
func SquatPose() *ReducedPose {
	return &ReducedPose{
		Shoulder: Point{X: 0.55, Y: 0.35},
		Hip:      Point{X: 0.5, Y: 0.6},
		Knee:     Point{X: 0.7, Y: 0.6},
		Ankle:    Point{X: 0.7, Y: 0.85},
	}
}

// KeypointsFor expands a reduced pose into a full-confidence keypoint set
// with both sides of each pair at the same location.
func KeypointsFor(p *ReducedPose) KeypointSet {
	set := make(KeypointSet, 8)
	for _, b := range bilateral {
		var pt Point
		switch b.part {
		case PartShoulder:
			pt = p.Shoulder
		case PartHip:
			pt = p.Hip
		case PartKnee:
			pt = p.Knee
		case PartAnkle:
			pt = p.Ankle
		}
		kp := Keypoint{X: pt.X, Y: pt.Y, Score: 0.95}
		set[b.left] = kp
		set[b.right] = kp
	}
	return set
}
