package react

import (
	"context"
	"encoding/json"

	"github.com/malbeclabs/askdata/pkg/llm"
)

// Message represents a message in the conversation.
type Message interface {
	// ToParam converts the message to a provider-specific parameter type.
	ToParam() any
}

// Response represents a response from the LLM.
type Response interface {
	// Content returns the content blocks from the response.
	Content() []ContentBlock
	// ToMessage converts the response to a Message for the conversation history.
	ToMessage() Message
}

// ContentBlock represents a content block in a response.
type ContentBlock interface {
	// AsText returns text content if this is a text block.
	AsText() (text string, ok bool)
	// AsToolUse returns tool use information if this is a tool use block.
	AsToolUse() (id, name string, input []byte, ok bool)
}

// ToolUse represents a tool use request from the LLM.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Tool represents an available tool.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolResult represents the result of executing a tool.
type ToolResult struct {
	ID      string
	Content string
	IsError bool
}

// LLMClient is an interface for interacting with a tool-using LLM.
type LLMClient interface {
	// Call sends the system prompt and messages to the LLM and returns a response.
	Call(ctx context.Context, system string, messages []Message, tools []Tool) (Response, error)
	// ConvertToolResults converts tool results to messages for the LLM.
	ConvertToolResults(results []ToolResult) []Message
	// CreateUserMessage creates a user message in the provider's format.
	CreateUserMessage(content string) Message
}

// Unconfigured is the LLMClient used when no API key is available.
type Unconfigured struct{}

func (Unconfigured) Call(context.Context, string, []Message, []Tool) (Response, error) {
	return nil, llm.ErrNotConfigured
}

func (Unconfigured) ConvertToolResults([]ToolResult) []Message { return nil }

func (Unconfigured) CreateUserMessage(string) Message { return nil }
