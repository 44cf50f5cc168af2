package event

import (
	"time"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// SessionData is the data for session.* events.
type SessionData struct {
	Name     string      `json:"name"`
	Model    string      `json:"model,omitempty"`
	Role     string      `json:"role,omitempty"`
	Messages int         `json:"messages"`
	Tokens   int         `json:"tokens"`
	Usage    types.Usage `json:"usage"`
}

// TurnData is the data for turn.* events.
type TurnData struct {
	Session  string        `json:"session"`
	Input    string        `json:"input,omitempty"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// LayerData is the data for layer.* events.
type LayerData struct {
	Session string           `json:"session"`
	Layer   string           `json:"layer"`
	Model   string           `json:"model,omitempty"`
	Output  string           `json:"output,omitempty"`
	Mode    types.OutputMode `json:"mode,omitempty"`
	Usage   types.Usage      `json:"usage"`
}

// MessageData is the data for message.appended events.
type MessageData struct {
	Session string         `json:"session"`
	Layer   string         `json:"layer,omitempty"`
	Message *types.Message `json:"message"`
}

// ToolData is the data for tool.* events. Result is nil on tool.started.
type ToolData struct {
	Session string            `json:"session"`
	Layer   string            `json:"layer,omitempty"`
	Call    types.ToolCall    `json:"call"`
	Result  *types.ToolResult `json:"result,omitempty"`
}

// ServerHealthData is the data for server.health events.
type ServerHealthData struct {
	Server string `json:"server"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

// ConfigData is the data for config.reloaded events.
type ConfigData struct {
	Sources []string `json:"sources,omitempty"`
	Error   string   `json:"error,omitempty"`
}
