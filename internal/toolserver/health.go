package toolserver

import "time"

// State is the health of a tool server.
type State string

const (
	StateRunning   State = "running"
	StateUnhealthy State = "unhealthy"
	StateExited    State = "exited"
)

// Health is a point-in-time view of one server.
type Health struct {
	Server   string    `json:"server"`
	Kind     string    `json:"kind"`
	State    State     `json:"state"`
	Tools    int       `json:"tools"`
	Restarts int       `json:"restarts,omitempty"`
	Error    string    `json:"error,omitempty"`
	Since    time.Time `json:"since"`
}
