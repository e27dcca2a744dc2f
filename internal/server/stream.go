package server

import (
	"fmt"
	"net/http"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/gymbuddy/internal/capture"
)

const (
	streamFPS        = 15
	streamRetryDelay = 100 * time.Millisecond
	streamBoundary   = "frame"
)

// StreamHandler serves the local camera as MJPEG so the dashboard can show
// the lifter next to the live rep telemetry.
type StreamHandler struct {
	camera   capture.Camera
	interval time.Duration
}

// NewStreamHandler creates a new StreamHandler with the given camera.
func NewStreamHandler(camera capture.Camera) *StreamHandler {
	return &StreamHandler{camera: camera, interval: time.Second / streamFPS}
}

// ServeHTTP streams MJPEG frames until the client disconnects.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.camera.IsOpen() {
		http.Error(w, "Camera not running", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		jpeg, err := h.encodeFrame()
		if err != nil {
			time.Sleep(streamRetryDelay)
			continue
		}

		_, err = fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(jpeg))
		if err == nil {
			_, err = w.Write(jpeg)
		}
		if err == nil {
			_, err = w.Write([]byte("\r\n"))
		}
		if err != nil {
			return
		}

		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (h *StreamHandler) encodeFrame() ([]byte, error) {
	frame, err := h.camera.ReadFrame()
	if err != nil {
		return nil, err
	}
	defer frame.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	// GetBytes aliases native memory released by Close.
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
