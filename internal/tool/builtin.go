package tool

import (
	"fmt"
	"net/http"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// Environment carries what builtin servers need from the host.
type Environment struct {
	WorkDir      string
	Env          []string
	HTTPClient   *http.Client
	Agents       []types.AgentDefinition
	Completer    Completer
	DefaultModel string
}

// NewBuiltin creates the builtin server of the given kind under name.
func NewBuiltin(kind types.ServerKind, name string, env Environment) (*Server, error) {
	var s *Server
	switch kind {
	case types.ServerDeveloper:
		s = NewDeveloper(DeveloperOptions{WorkDir: env.WorkDir, Env: env.Env})
	case types.ServerFilesystem:
		s = NewFilesystem(FilesystemOptions{WorkDir: env.WorkDir, HTTPClient: env.HTTPClient})
	case types.ServerAgent:
		s = NewAgent(AgentOptions{Agents: env.Agents, Completer: env.Completer, DefaultModel: env.DefaultModel})
	default:
		return nil, fmt.Errorf("server kind %q is not builtin", kind)
	}
	if name != "" {
		s.name = name
	}
	return s, nil
}
