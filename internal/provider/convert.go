package provider

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

// toEinoMessages converts the canonical sequence to eino messages, with the
// system prompt first. Vendor components split roles further as needed.
func toEinoMessages(req *Request) []*schema.Message {
	out := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, schema.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		out = append(out, toEinoMessage(msg))
	}
	return out
}

func toEinoMessage(msg *types.Message) *schema.Message {
	em := &schema.Message{Content: msg.Text()}
	switch msg.Role {
	case types.RoleUser:
		em.Role = schema.User
	case types.RoleTool:
		em.Role = schema.Tool
		em.ToolCallID = msg.ToolCallID
	default:
		em.Role = schema.Assistant
	}

	if hasImages(msg) {
		em.Content = ""
		for _, p := range msg.Parts {
			switch p.Type {
			case types.PartText:
				em.MultiContent = append(em.MultiContent, schema.ChatMessagePart{
					Type: schema.ChatMessagePartTypeText,
					Text: p.Text,
				})
			case types.PartImage:
				em.MultiContent = append(em.MultiContent, schema.ChatMessagePart{
					Type:     schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{URL: p.ImageURL, MIMEType: p.MediaType},
				})
			}
		}
	}

	for _, tc := range msg.ToolCalls {
		em.ToolCalls = append(em.ToolCalls, schema.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments(),
			},
		})
	}
	return em
}

func hasImages(msg *types.Message) bool {
	for _, p := range msg.Parts {
		if p.Type == types.PartImage {
			return true
		}
	}
	return false
}

// fromEinoMessage converts a model reply into a canonical assistant message.
func fromEinoMessage(em *schema.Message) *types.Message {
	msg := &types.Message{
		ID:        ulid.Make().String(),
		Role:      types.RoleAssistant,
		Timestamp: time.Now().UnixMilli(),
	}
	if em.Content != "" {
		msg.Parts = append(msg.Parts, types.ContentPart{Type: types.PartText, Text: em.Content})
	}
	seen := make(map[string]bool, len(em.ToolCalls))
	for _, tc := range em.ToolCalls {
		id := tc.ID
		if id == "" || seen[id] {
			id = "call_" + ulid.Make().String()
		}
		seen[id] = true
		msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
			ID:         id,
			Name:       tc.Function.Name,
			Parameters: parseArguments(tc.Function.Arguments),
		})
	}
	return msg
}

// parseArguments decodes tool call arguments. Undecodable arguments are kept
// under "_raw" so the tool reports the problem to the model.
func parseArguments(args string) map[string]any {
	params := map[string]any{}
	if args == "" {
		return params
	}
	if err := json.Unmarshal([]byte(args), &params); err != nil {
		return map[string]any{"_raw": args}
	}
	return params
}

// toEinoTools converts tool specs to eino tool infos.
func toEinoTools(tools []ToolSpec) []*schema.ToolInfo {
	result := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		result[i] = &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(schemaToParams(t.Parameters)),
		}
	}
	return result
}

// schemaToParams converts a JSON Schema object to eino parameter infos.
func schemaToParams(jsonSchema map[string]any) map[string]*schema.ParameterInfo {
	props, _ := jsonSchema["properties"].(map[string]any)
	if len(props) == 0 {
		return map[string]*schema.ParameterInfo{}
	}

	required := map[string]bool{}
	switch req := jsonSchema["required"].(type) {
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	case []string:
		for _, s := range req {
			required[s] = true
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make(map[string]*schema.ParameterInfo, len(props))
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		info := propertyToParam(prop)
		info.Required = required[name]
		params[name] = info
	}
	return params
}

func propertyToParam(prop map[string]any) *schema.ParameterInfo {
	info := &schema.ParameterInfo{Type: schema.String}
	if desc, ok := prop["description"].(string); ok {
		info.Desc = desc
	}
	switch prop["type"] {
	case "integer":
		info.Type = schema.Integer
	case "number":
		info.Type = schema.Number
	case "boolean":
		info.Type = schema.Boolean
	case "array":
		info.Type = schema.Array
		if items, ok := prop["items"].(map[string]any); ok {
			info.ElemInfo = propertyToParam(items)
		}
	case "object":
		info.Type = schema.Object
		info.SubParams = schemaToParams(prop)
	}
	if enum, ok := prop["enum"].([]any); ok {
		for _, v := range enum {
			if s, ok := v.(string); ok {
				info.Enum = append(info.Enum, s)
			}
		}
	}
	return info
}

// usageFromEino extracts token usage from a model reply.
func usageFromEino(em *schema.Message) types.Usage {
	u := types.Usage{Requests: 1}
	if em.ResponseMeta != nil && em.ResponseMeta.Usage != nil {
		u.InputTokens = em.ResponseMeta.Usage.PromptTokens
		u.OutputTokens = em.ResponseMeta.Usage.CompletionTokens
	}
	return u
}
