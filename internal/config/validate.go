package config

import (
	"errors"
	"fmt"

	"github.com/Muvon/octomind-sub000/internal/layer"
	"github.com/Muvon/octomind-sub000/internal/provider"
	"github.com/Muvon/octomind-sub000/internal/toolserver"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// Error is a configuration failure. It names the file or field at fault and
// the offending value.
type Error struct {
	Path   string
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := "config"
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" %q", e.Value)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

const (
	defaultRole = "developer"

	defaultSystemPrompt = `You are Octomind, a software engineering assistant working in {{.cwd}} on {{.os}}.
Use the available tools to inspect and change the project. Be concise.
{{if .memory}}
Things you remember:
{{.memory}}
{{end}}`
)

// ApplyDefaults fills in the builtin servers and the developer role when the
// configuration defines none.
func ApplyDefaults(cfg *types.Config) {
	if len(cfg.Servers) == 0 {
		cfg.Servers = []types.ServerDefinition{
			{Name: "developer", Kind: types.ServerDeveloper},
			{Name: "filesystem", Kind: types.ServerFilesystem},
		}
		if len(cfg.Agents) > 0 {
			cfg.Servers = append(cfg.Servers, types.ServerDefinition{Name: "agent", Kind: types.ServerAgent})
		}
	}
	if len(cfg.Roles) == 0 {
		servers := make([]string, 0, len(cfg.Servers))
		for _, s := range cfg.Servers {
			servers = append(servers, s.Name)
		}
		cfg.Roles = map[string]types.RoleConfig{
			defaultRole: {SystemPrompt: defaultSystemPrompt, Servers: servers},
		}
	}
	if cfg.Role == "" {
		if _, ok := cfg.Roles[defaultRole]; ok {
			cfg.Role = defaultRole
		} else if len(cfg.Roles) == 1 {
			for name := range cfg.Roles {
				cfg.Role = name
			}
		}
	}
}

// Validate checks cross references and every definition. The first problem
// found is returned.
func Validate(cfg *types.Config) error {
	if cfg.Model != "" {
		if _, _, err := provider.ParseIdentifier(cfg.Model); err != nil {
			return &Error{Field: "model", Err: err}
		}
	}

	servers := make(map[string]bool, len(cfg.Servers))
	for _, def := range cfg.Servers {
		if err := toolserver.Validate(def); err != nil {
			return &Error{Field: "servers", Err: err}
		}
		if servers[def.Name] {
			return &Error{Field: "servers", Value: def.Name, Reason: "duplicate server name"}
		}
		servers[def.Name] = true
	}

	layers := make(map[string]types.Layer, len(cfg.Layers))
	for _, l := range cfg.Layers {
		if err := layer.Validate(l); err != nil {
			return &Error{Field: "layers", Err: err}
		}
		if l.Model != "" {
			if _, _, err := provider.ParseIdentifier(l.Model); err != nil {
				return &Error{Field: "layers." + l.Name + ".model", Err: err}
			}
		}
		if _, ok := layers[l.Name]; ok {
			return &Error{Field: "layers", Value: l.Name, Reason: "duplicate layer name"}
		}
		for _, s := range l.Servers {
			if !servers[s] {
				return &Error{Field: "layers." + l.Name + ".servers", Value: s, Reason: "unknown server"}
			}
		}
		layers[l.Name] = l
	}

	for i, a := range cfg.Agents {
		if a.Name == "" {
			return &Error{Field: fmt.Sprintf("agents[%d].name", i), Reason: "must not be empty"}
		}
		if a.Model != "" {
			if _, _, err := provider.ParseIdentifier(a.Model); err != nil {
				return &Error{Field: "agents." + a.Name + ".model", Err: err}
			}
		}
	}

	for name, role := range cfg.Roles {
		if err := validateRole(name, role, servers, layers); err != nil {
			return err
		}
	}
	if cfg.Role != "" && len(cfg.Roles) > 0 {
		if _, ok := cfg.Roles[cfg.Role]; !ok {
			return &Error{Field: "role", Value: cfg.Role, Reason: "unknown role"}
		}
	}
	return nil
}

func validateRole(name string, role types.RoleConfig, servers map[string]bool, layers map[string]types.Layer) error {
	field := "roles." + name
	for _, id := range []struct{ field, value string }{{"model", role.Model}, {"reduce_model", role.ReduceModel}} {
		if id.value == "" {
			continue
		}
		if _, _, err := provider.ParseIdentifier(id.value); err != nil {
			return &Error{Field: field + "." + id.field, Err: err}
		}
	}
	for _, s := range role.Servers {
		if !servers[s] {
			return &Error{Field: field + ".servers", Value: s, Reason: "unknown server"}
		}
	}
	for _, l := range role.Layers {
		if _, ok := layers[l]; !ok {
			return &Error{Field: field + ".layers", Value: l, Reason: "unknown layer"}
		}
	}
	if len(role.Layers) == 0 {
		if err := layer.Validate(layer.DefaultLayer(role)); err != nil {
			return &Error{Field: field, Err: err}
		}
	}
	switch {
	case role.CacheTokensPctThreshold < 0 || role.CacheTokensPctThreshold > 100:
		return &Error{Field: field + ".cache_tokens_pct_threshold", Value: fmt.Sprint(role.CacheTokensPctThreshold), Reason: "must be between 0 and 100"}
	case role.MaxRequestTokensThreshold < 0:
		return &Error{Field: field + ".max_request_tokens_threshold", Value: fmt.Sprint(role.MaxRequestTokensThreshold), Reason: "must not be negative"}
	case role.MaxToolRounds < 0, role.ToolTimeout < 0, role.TurnTimeout < 0:
		return &Error{Field: field, Reason: "max_tool_rounds, tool_timeout and turn_timeout must not be negative"}
	}
	return nil
}

// IsConfigError reports whether err is a configuration failure of any
// package.
func IsConfigError(err error) bool {
	var (
		ce *Error
		pe *provider.ConfigError
		de *toolserver.DefinitionError
	)
	return errors.As(err, &ce) || errors.As(err, &pe) || errors.As(err, &de)
}
