package layer

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// Vars are the values available to system prompt templates.
type Vars map[string]any

// baseVars returns the variables every layer prompt can use.
func baseVars(role, layerName, model string, extra Vars) Vars {
	cwd, _ := os.Getwd()
	v := Vars{
		"cwd":    cwd,
		"date":   time.Now().Format("2006-01-02"),
		"role":   role,
		"layer":  layerName,
		"model":  model,
		"os":     runtime.GOOS,
		"memory": "",
	}
	for k, val := range extra {
		v[k] = val
	}
	return v
}

// renderSystem renders tpl as a Go template system prompt.
func renderSystem(ctx context.Context, tpl string, vars Vars) (string, error) {
	if tpl == "" {
		return "", nil
	}
	msgs, err := prompt.FromMessages(schema.GoTemplate, schema.SystemMessage(tpl)).Format(ctx, map[string]any(vars))
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	if len(msgs) == 0 {
		return "", nil
	}
	return msgs[0].Content, nil
}
