package repo

import (
	"context"
	"errors"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
)

var (
	// ErrContentPolicy is returned when a provider refuses a request on policy grounds
	ErrContentPolicy = errors.New("content policy violation")

	// ErrUnknownProvider is returned for providers missing from the catalog
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnsupported is returned when the provider lacks the capability
	ErrUnsupported = errors.New("capability not supported by provider")
)

// ToolCall is a tool invocation requested by a model
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// ToolSpec describes a tool offered to a model
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema
}

// ChatMessage is one message of a provider conversation
type ChatMessage struct {
	Role       string
	Content    string
	ImageURLs  []string // Vision input; data URLs allowed
	ToolCalls  []ToolCall
	ToolCallID string
}

// ChatRequest is a chat completion request
type ChatRequest struct {
	Model     string
	Messages  []ChatMessage
	Tools     []ToolSpec
	MaxTokens int
}

// ChatResponse is a chat completion result
type ChatResponse struct {
	Content          string
	ToolCalls        []ToolCall
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	UsageReported    bool
}

// TotalTokens returns the reported token count, nil when not reported
func (r *ChatResponse) TotalTokens() *int64 {
	if !r.UsageReported {
		return nil
	}
	n := r.PromptTokens + r.CompletionTokens
	return &n
}

// ImageRequest is an image generation request
type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
}

// ImageResult is a generated image
type ImageResult struct {
	Data  []byte
	URL   string
	Model string
}

// SpeechRequest is a text-to-speech request
type SpeechRequest struct {
	Model string
	Input string
	Voice string
}

// ProviderGateway talks to AI providers selected by capability
type ProviderGateway interface {
	// Provider returns a catalog entry
	Provider(id string) (*domain.ProviderConfig, bool)

	// Providers lists configured providers in catalog order
	Providers() []*domain.ProviderConfig

	Chat(ctx context.Context, providerID string, req ChatRequest) (*ChatResponse, error)
	GenerateImage(ctx context.Context, providerID string, req ImageRequest) (*ImageResult, error)
	GenerateSpeech(ctx context.Context, providerID string, req SpeechRequest) ([]byte, error)
	ListModels(ctx context.Context, providerID string) ([]string, error)
}

// ToolCallContext identifies who triggered a tool call
type ToolCallContext struct {
	TenantID  string
	UserID    string
	ChannelID string
}

// ToolRegistry is the catalog of callable tools. Invoke never fails:
// errors are rendered into the returned text.
type ToolRegistry interface {
	Definitions() []ToolSpec
	Invoke(ctx context.Context, call ToolCallContext, name, arguments string) string
}
