package callback

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runflow/orchestrator/internal/model"
)

func TestExtractSDKSessionIDFromResultMessage(t *testing.T) {
	msg := map[string]any{"_type": "ResultMessage", "session_id": "sdk-123"}
	assert.Equal(t, "sdk-123", extractSDKSessionID(msg))
}

func TestExtractSDKSessionIDFromSystemInitNested(t *testing.T) {
	msg := map[string]any{
		"_type":   "SystemMessage",
		"subtype": "init",
		"data": map[string]any{
			"data": map[string]any{"session_id": "sdk-nested"},
		},
	}
	assert.Equal(t, "sdk-nested", extractSDKSessionID(msg))
}

func TestExtractSDKSessionIDFromSystemInitFlat(t *testing.T) {
	msg := map[string]any{
		"_type":   "SystemMessage",
		"subtype": "init",
		"data":    map[string]any{"session_id": "sdk-flat"},
	}
	assert.Equal(t, "sdk-flat", extractSDKSessionID(msg))
}

func TestExtractSDKSessionIDIgnoresOtherSubtypes(t *testing.T) {
	msg := map[string]any{"_type": "SystemMessage", "subtype": "other", "data": map[string]any{"session_id": "x"}}
	assert.Equal(t, "", extractSDKSessionID(msg))
}

func TestExtractRole(t *testing.T) {
	assert.Equal(t, model.RoleAssistant, extractRole(map[string]any{"_type": "AssistantMessage"}))
	assert.Equal(t, model.RoleUser, extractRole(map[string]any{"_type": "UserMessage"}))
	assert.Equal(t, model.RoleSystem, extractRole(map[string]any{"_type": "SystemMessage"}))
	assert.Equal(t, model.RoleAssistant, extractRole(map[string]any{"_type": "SomethingElse"}))
}

func TestExtractTextPreviewReturnsFirstTextBlock(t *testing.T) {
	content := []any{
		map[string]any{"_type": "ToolUseBlock", "name": "bash"},
		map[string]any{"_type": "TextBlock", "text": "hello world"},
		map[string]any{"_type": "TextBlock", "text": "second"},
	}
	assert.Equal(t, "hello world", extractTextPreview(content))
}

func TestExtractTextPreviewTruncatesTo500Runes(t *testing.T) {
	long := make([]rune, 600)
	for i := range long {
		long[i] = 'a'
	}
	content := []any{map[string]any{"_type": "TextBlock", "text": string(long)}}
	preview := extractTextPreview(content)
	assert.Len(t, []rune(preview), 500)
}

func TestExtractTextPreviewNoTextBlock(t *testing.T) {
	content := []any{map[string]any{"_type": "ToolUseBlock"}}
	assert.Equal(t, "", extractTextPreview(content))
}

func TestExtractToolBlocksUse(t *testing.T) {
	content := []any{
		map[string]any{"_type": "ToolUseBlock", "id": "tu-1", "name": "bash", "input": map[string]any{"cmd": "ls"}},
	}
	blocks := extractToolBlocks(content)
	assert.Len(t, blocks, 1)
	assert.True(t, blocks[0].isUse)
	assert.Equal(t, "tu-1", blocks[0].toolUseID)
	assert.Equal(t, "bash", blocks[0].toolName)
	assert.JSONEq(t, `{"cmd":"ls"}`, string(blocks[0].toolInput))
}

func TestExtractToolBlocksResult(t *testing.T) {
	content := []any{
		map[string]any{"_type": "ToolResultBlock", "tool_use_id": "tu-1", "is_error": true, "content": "boom"},
	}
	blocks := extractToolBlocks(content)
	assert.Len(t, blocks, 1)
	assert.False(t, blocks[0].isUse)
	assert.Equal(t, "tu-1", blocks[0].toolUseID)
	assert.True(t, blocks[0].isError)

	var body map[string]any
	assert.NoError(t, json.Unmarshal(blocks[0].resultBody, &body))
	assert.Equal(t, "boom", body["content"])
}

func TestExtractToolBlocksSkipsIncompleteUse(t *testing.T) {
	content := []any{
		map[string]any{"_type": "ToolUseBlock", "id": "", "name": "bash"},
		map[string]any{"_type": "ToolUseBlock", "id": "tu-1", "name": ""},
	}
	assert.Empty(t, extractToolBlocks(content))
}

func TestExtractToolBlocksSkipsNonBlockEntries(t *testing.T) {
	content := []any{"not-a-map", 42, nil}
	assert.Empty(t, extractToolBlocks(content))
}
