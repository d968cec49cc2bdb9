package callback

import (
	"encoding/json"
	"strings"

	"github.com/runflow/orchestrator/internal/model"
)

// extractSDKSessionID mirrors the Python service's handling of the two
// message shapes that carry the SDK's own session id: a terminal
// ResultMessage's top-level session_id, or a SystemMessage's init payload.
func extractSDKSessionID(message map[string]any) string {
	msgType, _ := message["_type"].(string)

	if strings.Contains(msgType, "ResultMessage") {
		if sid, ok := message["session_id"].(string); ok {
			return sid
		}
	}

	if strings.Contains(msgType, "SystemMessage") {
		if subtype, _ := message["subtype"].(string); subtype == "init" {
			data, _ := message["data"].(map[string]any)
			if data == nil {
				return ""
			}
			if inner, ok := data["data"].(map[string]any); ok {
				if sid, ok := inner["session_id"].(string); ok {
					return sid
				}
			}
			if sid, ok := data["session_id"].(string); ok {
				return sid
			}
		}
	}

	return ""
}

// extractRole derives a Message's role from the callback's `_type` tag,
// defaulting to assistant for unrecognized types.
func extractRole(message map[string]any) model.MessageRole {
	msgType, _ := message["_type"].(string)
	switch {
	case strings.Contains(msgType, "AssistantMessage"):
		return model.RoleAssistant
	case strings.Contains(msgType, "UserMessage"):
		return model.RoleUser
	case strings.Contains(msgType, "SystemMessage"):
		return model.RoleSystem
	default:
		return model.RoleAssistant
	}
}

// extractTextPreview returns the first TextBlock's text (truncated to 500
// runes) among a message's content blocks, or "" if none is present.
func extractTextPreview(content []any) string {
	for _, raw := range content {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		blockType, _ := block["_type"].(string)
		if !strings.Contains(blockType, "TextBlock") {
			continue
		}
		text, _ := block["text"].(string)
		runes := []rune(text)
		if len(runes) > 500 {
			runes = runes[:500]
		}
		return string(runes)
	}
	return ""
}

// toolBlock is a ToolUseBlock or ToolResultBlock pulled out of a message's
// content list for the callback's tool-execution upsert pass.
type toolBlock struct {
	isUse      bool
	toolUseID  string
	toolName   string
	toolInput  json.RawMessage
	resultBody json.RawMessage
	isError    bool
}

func extractToolBlocks(content []any) []toolBlock {
	blocks := make([]toolBlock, 0, len(content))
	for _, raw := range content {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		blockType, _ := block["_type"].(string)

		switch {
		case strings.Contains(blockType, "ToolUseBlock"):
			toolUseID, _ := block["id"].(string)
			toolName, _ := block["name"].(string)
			if toolUseID == "" || toolName == "" {
				continue
			}
			input, _ := json.Marshal(block["input"])
			blocks = append(blocks, toolBlock{isUse: true, toolUseID: toolUseID, toolName: toolName, toolInput: input})

		case strings.Contains(blockType, "ToolResultBlock"):
			toolUseID, _ := block["tool_use_id"].(string)
			if toolUseID == "" {
				continue
			}
			isError, _ := block["is_error"].(bool)
			var body json.RawMessage
			if content, ok := block["content"]; ok && content != nil {
				body, _ = json.Marshal(map[string]any{"content": content})
			}
			blocks = append(blocks, toolBlock{toolUseID: toolUseID, resultBody: body, isError: isError})
		}
	}
	return blocks
}
