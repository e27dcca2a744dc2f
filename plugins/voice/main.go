// Package main provides a voice feedback plugin.
// It speaks squat feedback with the platform's speech command: say on macOS,
// spd-say or espeak on Linux.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// Request represents the input from the plugin executor.
type Request struct {
	Event    string          `json:"event"`
	Reps     int             `json:"reps"`
	Feedback string          `json:"feedback"`
	Config   json.RawMessage `json:"config"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is the optional plugin configuration.
type Config struct {
	Voice string `json:"voice"`
	Rate  int    `json:"rate"`
}

var errNoSpeech = errors.New("no speech command found")

// phraseFor maps an event to the phrase spoken for it.
func phraseFor(req Request) (string, error) {
	switch req.Event {
	case "depth":
		return "Good depth", nil
	case "rep":
		if req.Reps == 1 {
			return "One rep", nil
		}
		return fmt.Sprintf("%d reps", req.Reps), nil
	default:
		return "", fmt.Errorf("unknown event: %s", req.Event)
	}
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	phrase, err := phraseFor(req)
	if err != nil {
		writeErrorResponse(err.Error())
		return
	}

	var cfg Config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeErrorResponse(fmt.Sprintf("invalid config: %v", err))
			return
		}
	}

	if err := speak(phrase, cfg); err != nil {
		writeErrorResponse(fmt.Sprintf("speak %q: %v", phrase, err))
		return
	}

	data, _ := json.Marshal(map[string]string{"spoken": phrase})
	writeSuccessResponse(data)
}

// speak runs the first available speech command.
func speak(text string, cfg Config) error {
	name, args := speechCommand(cfg)
	if name == "" {
		return errNoSpeech
	}

	cmd := exec.Command(name, append(args, text)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

func speechCommand(cfg Config) (string, []string) {
	if runtime.GOOS == "darwin" {
		var args []string
		if cfg.Voice != "" {
			args = append(args, "-v", cfg.Voice)
		}
		if cfg.Rate > 0 {
			args = append(args, "-r", strconv.Itoa(cfg.Rate))
		}
		return "say", args
	}

	if path, err := exec.LookPath("spd-say"); err == nil {
		args := []string{"--wait"}
		if cfg.Voice != "" {
			args = append(args, "-y", cfg.Voice)
		}
		return path, args
	}
	if path, err := exec.LookPath("espeak"); err == nil {
		var args []string
		if cfg.Voice != "" {
			args = append(args, "-v", cfg.Voice)
		}
		if cfg.Rate > 0 {
			args = append(args, "-s", strconv.Itoa(cfg.Rate))
		}
		return path, args
	}
	return "", nil
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse(data json.RawMessage) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: true, Data: data})
}
