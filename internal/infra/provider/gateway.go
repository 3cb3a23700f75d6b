package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// modelCacheTTL is how long a fetched model list is reused
const modelCacheTTL = 10 * time.Minute

type cachedModels struct {
	ids       []string
	fetchedAt time.Time
}

// Gateway is the ProviderGateway over OpenAI-compatible APIs
type Gateway struct {
	providers []*domain.ProviderConfig
	clients   map[string]*openai.Client
	timeout   time.Duration

	modelsMu sync.Mutex
	models   map[string]cachedModels
	now      func() time.Time
}

// NewGateway creates a client per configured provider
func NewGateway(providers []domain.ProviderConfig, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	g := &Gateway{
		clients: make(map[string]*openai.Client),
		timeout: timeout,
		models:  make(map[string]cachedModels),
		now:     time.Now,
	}
	for i := range providers {
		p := providers[i]
		g.providers = append(g.providers, &p)
		g.clients[p.ID] = openai.NewClientWithConfig(clientConfig(&p))
	}
	return g
}

func clientConfig(p *domain.ProviderConfig) openai.ClientConfig {
	if p.Kind == domain.ProviderAzure {
		config := openai.DefaultAzureConfig(p.APIKey, p.BaseURL)
		if p.APIVersion != "" {
			config.APIVersion = p.APIVersion
		}
		return config
	}
	config := openai.DefaultConfig(p.APIKey)
	if p.BaseURL != "" {
		config.BaseURL = p.BaseURL
	}
	return config
}

// Provider looks up a provider
func (g *Gateway) Provider(id string) (*domain.ProviderConfig, bool) {
	for _, p := range g.providers {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Providers lists providers in configuration order
func (g *Gateway) Providers() []*domain.ProviderConfig {
	return g.providers
}

func (g *Gateway) client(id string, capability domain.Capability) (*domain.ProviderConfig, *openai.Client, error) {
	p, ok := g.Provider(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", repo.ErrUnknownProvider, id)
	}
	if capability != "" && !p.Supports(capability) {
		return nil, nil, fmt.Errorf("%w: %s cannot %s", repo.ErrUnsupported, id, capability)
	}
	return p, g.clients[id], nil
}

// Chat sends a chat completion request
func (g *Gateway) Chat(ctx context.Context, providerID string, req repo.ChatRequest) (*repo.ChatResponse, error) {
	p, client, err := g.client(providerID, domain.CapChat)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = p.DefaultModelFor(domain.ModeChat)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	creq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  toOpenAIMessages(req.Messages),
		MaxTokens: req.MaxTokens,
	}
	if len(req.Tools) > 0 && p.Supports(domain.CapTools) {
		creq.Tools = toOpenAITools(req.Tools)
	}

	resp, err := client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", mapError(err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices")
	}

	msg := resp.Choices[0].Message
	out := &repo.ChatResponse{
		Content:          msg.Content,
		Model:            resp.Model,
		PromptTokens:     int64(resp.Usage.PromptTokens),
		CompletionTokens: int64(resp.Usage.CompletionTokens),
		UsageReported:    resp.Usage.TotalTokens > 0,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, repo.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func toOpenAIMessages(msgs []repo.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ImageURLs) > 0 {
			// Vision input goes through multi-part content
			parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
			for _, url := range m.ImageURLs {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
				})
			}
			om.MultiContent = parts
		} else {
			om.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:       tc.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(specs []repo.ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return tools
}

// GenerateImage generates one image, preferring inline base64 data
func (g *Gateway) GenerateImage(ctx context.Context, providerID string, req repo.ImageRequest) (*repo.ImageResult, error) {
	p, client, err := g.client(providerID, domain.CapImage)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = p.DefaultModelFor(domain.ModeImage)
	}
	size := req.Size
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          model,
		N:              1,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("create image: %w", mapError(err))
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no image returned")
	}

	result := &repo.ImageResult{Model: model, URL: resp.Data[0].URL}
	if b64 := resp.Data[0].B64JSON; b64 != "" {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		result.Data = data
	}
	return result, nil
}

// GenerateSpeech synthesizes mp3 audio
func (g *Gateway) GenerateSpeech(ctx context.Context, providerID string, req repo.SpeechRequest) ([]byte, error) {
	p, client, err := g.client(providerID, domain.CapSpeech)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = p.DefaultModelFor(domain.ModeAudio)
	}
	voice := openai.SpeechVoice(req.Voice)
	if voice == "" {
		voice = openai.VoiceAlloy
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(model),
		Input:          req.Input,
		Voice:          voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", mapError(err))
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	return audio, nil
}

// ListModels lists the models the provider API reports. Results are cached
// per provider for modelCacheTTL; failures are not cached.
func (g *Gateway) ListModels(ctx context.Context, providerID string) ([]string, error) {
	_, client, err := g.client(providerID, "")
	if err != nil {
		return nil, err
	}
	g.modelsMu.Lock()
	cached, ok := g.models[providerID]
	g.modelsMu.Unlock()
	if ok && g.now().Sub(cached.fetchedAt) < modelCacheTTL {
		return append([]string(nil), cached.ids...), nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	list, err := client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", mapError(err))
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	g.modelsMu.Lock()
	g.models[providerID] = cachedModels{ids: ids, fetchedAt: g.now()}
	g.modelsMu.Unlock()
	return append([]string(nil), ids...), nil
}

// mapError turns provider policy refusals into ErrContentPolicy
func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := fmt.Sprint(apiErr.Code)
		if code == "content_policy_violation" || strings.Contains(strings.ToLower(apiErr.Message), "safety system") {
			return fmt.Errorf("%w: %s", repo.ErrContentPolicy, apiErr.Message)
		}
	}
	return err
}
