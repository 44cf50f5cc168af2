package layer

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// DefaultLayerName names the responder used by roles without layers.
const DefaultLayerName = "responder"

// DefaultLayer is the single responder layer of a role that lists no layers.
func DefaultLayer(role types.RoleConfig) types.Layer {
	return types.Layer{
		Name:         DefaultLayerName,
		SystemPrompt: role.SystemPrompt,
		Temperature:  role.Temperature,
		InputMode:    types.InputAll,
		OutputMode:   types.OutputAppend,
		Servers:      role.Servers,
		AllowedTools: role.AllowedTools,
	}
}

// ForRole returns the ordered layers of a role, disabled ones included.
func ForRole(cfg *types.Config, role types.RoleConfig) ([]types.Layer, error) {
	if len(role.Layers) == 0 {
		return []types.Layer{DefaultLayer(role)}, nil
	}
	byName := make(map[string]types.Layer, len(cfg.Layers))
	for _, l := range cfg.Layers {
		byName[l.Name] = l
	}
	out := make([]types.Layer, 0, len(role.Layers))
	for _, name := range role.Layers {
		l, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown layer %q", name)
		}
		out = append(out, l)
	}
	return out, nil
}

// Validate checks a layer definition.
func Validate(l types.Layer) error {
	if l.Name == "" {
		return fmt.Errorf("layer name must not be empty")
	}
	switch l.InputMode {
	case "", types.InputLast, types.InputAll, types.InputSummary, types.InputHistory:
	default:
		return fmt.Errorf("layer %s: invalid input_mode %q: expected last, all, summary or history", l.Name, l.InputMode)
	}
	switch l.OutputMode {
	case "", types.OutputNone, types.OutputAppend, types.OutputReplace:
	default:
		return fmt.Errorf("layer %s: invalid output_mode %q: expected none, append or replace", l.Name, l.OutputMode)
	}
	for _, p := range l.AllowedTools {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("layer %s: invalid allowed_tools pattern %q", l.Name, p)
		}
	}
	return nil
}

func inputMode(l types.Layer) types.InputMode {
	if l.InputMode == "" {
		return types.InputAll
	}
	return l.InputMode
}

func outputMode(l types.Layer) types.OutputMode {
	if l.OutputMode == "" {
		return types.OutputAppend
	}
	return l.OutputMode
}

// toolAllowed reports whether name passes the allowlist patterns. An empty
// list allows every tool of the layer's servers.
func toolAllowed(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
