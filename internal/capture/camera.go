// Package capture reads frames from the local camera for squat coaching
// and decides, by frame differencing, when someone is moving in front of it.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/gymbuddy/internal/log"
)

// DefaultFPS is the idle capture rate; the pipeline raises it while
// someone is moving.
const DefaultFPS = 5

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrReadFailed is returned when the device yields no frame.
	ErrReadFailed = errors.New("failed to read frame from camera")
	// ErrEmptyFrame is returned when the device yields a zero-sized frame.
	ErrEmptyFrame = errors.New("captured frame is empty")
)

// Settings selects the capture device and the resolution requested from
// it. A squat needs the whole body in frame, so the defaults favour a
// wide landscape image over frame rate.
type Settings struct {
	Device int
	Width  int
	Height int
}

// DefaultSettings returns the first device at 640x480.
func DefaultSettings() Settings {
	return Settings{Device: 0, Width: 640, Height: 480}
}

// withDefaults fills unset dimensions from DefaultSettings.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Width <= 0 {
		s.Width = d.Width
	}
	if s.Height <= 0 {
		s.Height = d.Height
	}
	return s
}

// Camera is the frame source of the coaching pipeline and the MJPEG
// preview. ReadFrame hands ownership of the Mat to the caller.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	IsOpen() bool
}

// device is a Camera backed by gocv.VideoCapture.
type device struct {
	settings Settings
	logger   *slog.Logger

	mu      sync.Mutex
	capture *gocv.VideoCapture
	fps     int
}

// NewCamera returns a closed Camera for the given settings.
func NewCamera(s Settings) Camera {
	s = s.withDefaults()
	return &device{
		settings: s,
		fps:      DefaultFPS,
		logger:   log.With("component", "capture", "device", s.Device),
	}
}

// Open opens the device at the requested resolution and logs the size the
// driver actually granted. Opening an open camera is a no-op.
func (c *device) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		return nil
	}

	vc, err := gocv.OpenVideoCapture(c.settings.Device)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.settings.Device, err)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(c.settings.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(c.settings.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.logger.Info("camera opened",
		"width", int(vc.Get(gocv.VideoCaptureFrameWidth)),
		"height", int(vc.Get(gocv.VideoCaptureFrameHeight)),
		"fps", c.fps,
	)

	c.capture = vc
	return nil
}

// Close releases the device. Closing a closed camera returns nil.
func (c *device) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}
	err := c.capture.Close()
	c.capture = nil
	return err
}

// ReadFrame grabs the next frame. The caller closes the returned Mat.
func (c *device) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if !c.capture.Read(&mat) {
		mat.Close()
		return nil, ErrReadFailed
	}
	if mat.Empty() {
		mat.Close()
		return nil, ErrEmptyFrame
	}
	return &mat, nil
}

// SetFPS changes the capture rate, applying it to an open device at once.
// Non-positive rates are ignored.
func (c *device) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps
	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

func (c *device) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}
