package pose

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Mode selects the MediaPipe calling convention used by the helper.
type Mode string

const (
	// ModeSolutions uses the single-call mp.solutions.pose API.
	ModeSolutions Mode = "solutions"
	// ModeTasks uses the PoseLandmarker task graph with a .task asset.
	ModeTasks Mode = "tasks"
)

const helperScriptName = "pose_service.py"

// MediaPipe implements Provider using a Python MediaPipe subprocess.
// Frames go to the helper as length-prefixed JPEG on stdin and landmarks
// come back as one JSON line per frame.
type MediaPipe struct {
	mode       Mode
	python     string
	script     string
	model      string
	startupTTL time.Duration

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	mu      sync.Mutex
	started bool
	// dead is set when the helper fails mid-session
	dead error
}

// NewMediaPipe starts the helper in the given mode and waits for it to
// report that MediaPipe imported and the model loaded. Any failure here
// means the backend is unavailable.
func NewMediaPipe(ctx context.Context, cfg Config, mode Mode) (*MediaPipe, error) {
	script := cfg.HelperScript
	if script == "" {
		script = findHelperScript()
	}
	if script == "" {
		return nil, ErrHelperNotFound
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrHelperNotFound, script)
	}

	python := cfg.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	d := &MediaPipe{
		mode:       mode,
		python:     python,
		script:     script,
		startupTTL: cfg.HelperStartTimeout,
	}
	if mode == ModeTasks {
		d.model = cfg.TaskModel
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureStarted(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Detect sends a frame to the helper and parses the landmarks. After the
// helper dies every call fails fast with ErrHelperExited; a new session
// resolves a fresh backend.
func (d *MediaPipe) Detect(frame *gocv.Mat) (Estimate, error) {
	if frame == nil || frame.Empty() {
		return Estimate{}, ErrEmptyFrame
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dead != nil {
		return Estimate{}, d.dead
	}
	if !d.started {
		return Estimate{}, ErrHelperExited
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return Estimate{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		return Estimate{}, d.fail("write length", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return Estimate{}, d.fail("write data", err)
	}

	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		return Estimate{}, d.fail("read response", err)
	}

	var resp helperResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return Estimate{}, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return Estimate{}, fmt.Errorf("mediapipe: %s", resp.Error)
	}
	return resp.estimate(), nil
}

// Close shuts down the Python process.
func (d *MediaPipe) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *MediaPipe) ensureStarted(ctx context.Context) error {
	if d.started {
		return nil
	}

	args := []string{d.script, "--mode", string(d.mode)}
	if d.model != "" {
		args = append(args, "--model", d.model)
	}
	d.cmd = exec.Command(d.python, args...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start mediapipe helper: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	if err := d.handshake(ctx); err != nil {
		d.kill()
		return err
	}
	return nil
}

// handshake waits for the helper's first line, which is either
// {"ready": true} or {"error": "..."}.
func (d *MediaPipe) handshake(ctx context.Context) error {
	timeout := d.startupTTL
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	type result struct {
		line []byte
		err  error
	}
	ch := make(chan result, 1)
	reader := d.stdout
	go func() {
		line, err := reader.ReadBytes('\n')
		ch <- result{line, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("mediapipe %s helper exited: %w", d.mode, r.err)
		}
		var resp helperResponse
		if err := json.Unmarshal(r.line, &resp); err != nil {
			return fmt.Errorf("parse handshake: %w", err)
		}
		if resp.Error != "" {
			return fmt.Errorf("mediapipe %s unavailable: %s", d.mode, resp.Error)
		}
		if !resp.Ready {
			return errors.New("mediapipe helper did not report ready")
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("mediapipe %s helper start timed out after %s", d.mode, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fail marks the helper dead and reaps it.
func (d *MediaPipe) fail(op string, err error) error {
	d.dead = fmt.Errorf("%w: %s: %v", ErrHelperExited, op, err)
	d.kill()
	return d.dead
}

func (d *MediaPipe) kill() {
	if d.cmd != nil && d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.shutdown()
}

func (d *MediaPipe) shutdown() error {
	if !d.started {
		return nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func findHelperScript() string {
	// Get executable directory
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", helperScriptName),
		filepath.Join("..", "scripts", helperScriptName),
		filepath.Join(execDir, "scripts", helperScriptName),
		filepath.Join(os.Getenv("HOME"), ".gymbuddy", "scripts", helperScriptName),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".gymbuddy/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// helperResponse is one JSON line from the helper.
type helperResponse struct {
	Ready     bool             `json:"ready,omitempty"`
	Error     string           `json:"error,omitempty"`
	Landmarks []helperLandmark `json:"landmarks"`
}

type helperLandmark struct {
	Name       string   `json:"name"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Visibility *float64 `json:"visibility,omitempty"`
}

// estimate converts helper landmarks. A reported joint scores its
// visibility when the helper sends one, 1.0 otherwise.
func (r helperResponse) estimate() Estimate {
	if len(r.Landmarks) == 0 {
		return Estimate{}
	}

	set := make(KeypointSet, len(r.Landmarks))
	for _, lm := range r.Landmarks {
		if !IsJoint(lm.Name) {
			continue
		}
		score := 1.0
		if lm.Visibility != nil {
			score = *lm.Visibility
		}
		set[Joint(lm.Name)] = Keypoint{X: lm.X, Y: lm.Y, Score: score}
	}
	return Estimate{Unit: UnitNormalized, Keypoints: set}
}
