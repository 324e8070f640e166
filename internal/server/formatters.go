package server

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// toJSONContent converts a response structure to MCP text content with
// JSON. Responses are consumed by the AI client directly, so no
// human-oriented formatting is applied.
func toJSONContent(data any) []mcp.Content {
	jsonData, err := json.Marshal(data)
	if err != nil {
		errData := map[string]string{"error": err.Error()}
		jsonData, _ = json.Marshal(errData)
	}
	return []mcp.Content{
		&mcp.TextContent{Text: string(jsonData)},
	}
}
