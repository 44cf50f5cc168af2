package types

import "time"

// Config is the validated configuration consumed by the engine.
type Config struct {
	// Model is the default "vendor:model" identifier.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// Role is the default role name.
	Role string `json:"role,omitempty" yaml:"role,omitempty"`

	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`

	Providers map[string]ProviderConfig `json:"providers,omitempty" yaml:"providers,omitempty"`
	Roles     map[string]RoleConfig     `json:"roles,omitempty" yaml:"roles,omitempty"`
	Servers   []ServerDefinition        `json:"servers,omitempty" yaml:"servers,omitempty"`
	Layers    []Layer                   `json:"layers,omitempty" yaml:"layers,omitempty"`
	Agents    []AgentDefinition         `json:"agents,omitempty" yaml:"agents,omitempty"`

	Server *HTTPConfig `json:"server,omitempty" yaml:"server,omitempty"`
}

// ProviderConfig holds credentials and overrides for one vendor.
type ProviderConfig struct {
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// Pricing adds or overrides price table entries, keyed by model name.
	Pricing map[string]ModelPricing `json:"pricing,omitempty" yaml:"pricing,omitempty"`
}

// ModelPricing is a price table entry. Prices are USD per million tokens.
type ModelPricing struct {
	Input         float64 `json:"input" yaml:"input"`
	Output        float64 `json:"output" yaml:"output"`
	ContextWindow int     `json:"context_window,omitempty" yaml:"context_window,omitempty"`
	MaxOutput     int     `json:"max_output,omitempty" yaml:"max_output,omitempty"`
}

// RoleConfig describes an assistant role.
type RoleConfig struct {
	Model        string   `json:"model,omitempty" yaml:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature  float64  `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Servers      []string `json:"servers,omitempty" yaml:"servers,omitempty"`
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
	Layers       []string `json:"layers,omitempty" yaml:"layers,omitempty"`

	MaxToolRounds             int     `json:"max_tool_rounds,omitempty" yaml:"max_tool_rounds,omitempty"`
	MaxRequestTokensThreshold int     `json:"max_request_tokens_threshold,omitempty" yaml:"max_request_tokens_threshold,omitempty"`
	CacheTokensPctThreshold   float64 `json:"cache_tokens_pct_threshold,omitempty" yaml:"cache_tokens_pct_threshold,omitempty"`
	// ToolTimeout and TurnTimeout are in seconds.
	ToolTimeout int `json:"tool_timeout,omitempty" yaml:"tool_timeout,omitempty"`
	TurnTimeout int `json:"turn_timeout,omitempty" yaml:"turn_timeout,omitempty"`
	// ReduceModel is the cheap model used by reduce.
	ReduceModel string `json:"reduce_model,omitempty" yaml:"reduce_model,omitempty"`
}

// ServerKind is the implementation class of a tool server.
type ServerKind string

const (
	ServerDeveloper  ServerKind = "developer"
	ServerFilesystem ServerKind = "filesystem"
	ServerAgent      ServerKind = "agent"
	ServerExternal   ServerKind = "external"
)

// Builtin reports whether the kind runs in-process.
func (k ServerKind) Builtin() bool {
	return k == ServerDeveloper || k == ServerFilesystem || k == ServerAgent
}

// Transport is the connection type of an external server.
type Transport string

const (
	TransportHTTP  Transport = "http"
	TransportStdin Transport = "stdin"
	// TransportMCP speaks the Model Context Protocol, over stdio when
	// Command is set and streamable HTTP when URL is set.
	TransportMCP Transport = "mcp"
)

// Framing selects how messages are delimited on a stdin pipe.
type Framing string

const (
	FramingNewline Framing = "newline"
	FramingLength  Framing = "length"
)

// ServerDefinition is a named tool server.
type ServerDefinition struct {
	Name      string     `json:"name" yaml:"name"`
	Kind      ServerKind `json:"kind" yaml:"kind"`
	Transport Transport  `json:"transport,omitempty" yaml:"transport,omitempty"`

	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Framing Framing           `json:"framing,omitempty" yaml:"framing,omitempty"`

	// Tools lists the tool names this server exposes; empty means all.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	// Timeout is the per-call timeout in seconds.
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// CallTimeout returns the configured per-call timeout or zero.
func (d ServerDefinition) CallTimeout() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// InputMode selects what a layer receives as input.
type InputMode string

const (
	InputLast    InputMode = "last"
	InputAll     InputMode = "all"
	InputSummary InputMode = "summary"
	// InputHistory renders the whole history as text, nothing omitted or clipped.
	InputHistory InputMode = "history"
)

// OutputMode selects what a layer does with its output.
type OutputMode string

const (
	OutputNone    OutputMode = "none"
	OutputAppend  OutputMode = "append"
	OutputReplace OutputMode = "replace"
)

// Layer is one stage of the processing pipeline.
type Layer struct {
	Name         string     `json:"name" yaml:"name"`
	Model        string     `json:"model,omitempty" yaml:"model,omitempty"`
	SystemPrompt string     `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature  float64    `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	InputMode    InputMode  `json:"input_mode,omitempty" yaml:"input_mode,omitempty"`
	OutputMode   OutputMode `json:"output_mode,omitempty" yaml:"output_mode,omitempty"`
	Servers      []string   `json:"servers,omitempty" yaml:"servers,omitempty"`
	AllowedTools []string   `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
	MaxTokens    int        `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	// Enabled defaults to true when unset.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the layer takes part in pipeline runs.
func (l Layer) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}

// AgentDefinition configures one tool of the builtin agent server.
type AgentDefinition struct {
	Name         string  `json:"name" yaml:"name"`
	Description  string  `json:"description,omitempty" yaml:"description,omitempty"`
	Model        string  `json:"model,omitempty" yaml:"model,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
}

// HTTPConfig configures the control API.
type HTTPConfig struct {
	Addr        string   `json:"addr,omitempty" yaml:"addr,omitempty"`
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}
