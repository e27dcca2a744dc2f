// Package plugin runs external rep hooks. A plugin is a directory with a
// plugin.json manifest and an executable that reads one JSON Request on
// stdin and writes one JSON Response on stdout.
package plugin

import (
	"encoding/json"
	"slices"
)

// Hook event names a plugin may subscribe to.
const (
	EventDepth = "depth"
	EventRep   = "rep"
)

// Manifest describes a plugin's metadata and the events it handles.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Executable   string          `json:"executable"`
	Events       []string        `json:"events"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
}

// Request is sent to a plugin when a subscribed event fires.
type Request struct {
	Event     string          `json:"event"`
	SessionID string          `json:"session_id"`
	Reps      int             `json:"reps"`
	Feedback  string          `json:"feedback"`
	KneeAngle float64         `json:"knee_angle"`
	HipAngle  float64         `json:"hip_angle"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// Response represents the response from a plugin execution.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Handles reports whether the plugin subscribed to event.
func (p *Plugin) Handles(event string) bool {
	return slices.Contains(p.Manifest.Events, event)
}
