package chat

import (
	"encoding/json"

	"github.com/morphly-app/morphly/internal/ai"
)

const (
	toolCreateDocument = "createDocument"
	toolUpdateDocument = "updateDocument"
)

type createDocumentArgs struct {
	Title string `json:"title"`
	Kind  string `json:"kind"`
}

type updateDocumentArgs struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// toolResult is what the model sees as a tool's output; Error is set instead
// of the other fields when the call failed at tool level.
type toolResult struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

func turnTools() []ai.Tool {
	return []ai.Tool{
		{
			Name:        toolCreateDocument,
			Description: "Use this tool to create cadquery code for a new 3D model.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"title": {"type": "string", "description": "Short descriptive title of the model"},
					"kind": {"type": "string", "enum": ["code"]}
				},
				"required": ["title", "kind"]
			}`),
		},
		{
			Name:        toolUpdateDocument,
			Description: "Update an existing document with the given description of changes.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string", "description": "The ID of the document to update"},
					"description": {"type": "string", "description": "The description of changes that need to be made"}
				},
				"required": ["id", "description"]
			}`),
		},
	}
}
