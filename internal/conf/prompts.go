package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
)

// PromptsConfig contains prompts, user-facing messages and the provider catalog loaded from YAML
type PromptsConfig struct {
	Assistant AssistantPrompts        `yaml:"assistant"`
	Messages  ReplyMessages           `yaml:"messages"`
	History   HistoryConfig           `yaml:"history"`
	Providers []domain.ProviderConfig `yaml:"providers"`
}

// AssistantPrompts contains model-facing prompts
type AssistantPrompts struct {
	SystemPrompt       string `yaml:"system_prompt"`
	HistoryMarker      string `yaml:"history_marker"`
	ParticipantsHeader string `yaml:"participants_header"`
	KnowledgeHeader    string `yaml:"knowledge_header"`
	ExamplesHeader     string `yaml:"examples_header"`
	ImageRewritePrompt string `yaml:"image_rewrite_prompt"`
	VisionPrompt       string `yaml:"vision_prompt"`
	ExtractionPrompt   string `yaml:"extraction_prompt"`
}

// ReplyMessages contains user-facing canned replies
type ReplyMessages struct {
	HistoryReset     string `yaml:"history_reset"`
	QuotaExceeded    string `yaml:"quota_exceeded"`
	PolicyRejected   string `yaml:"policy_rejected"`
	ProviderError    string `yaml:"provider_error"`
	VideoUnsupported string `yaml:"video_unsupported"`
	MusicUnsupported string `yaml:"music_unsupported"`
}

// HistoryConfig contains context sizes
type HistoryConfig struct {
	ChannelMessages  int `yaml:"channel_messages"`
	TrainingExamples int `yaml:"training_examples"`
	KnowledgeEntries int `yaml:"knowledge_entries"`
}

// LoadPromptsConfig loads prompts configuration from YAML file
func LoadPromptsConfig(configPath string) (*PromptsConfig, error) {
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/prompts.yaml",
			"/etc/botpanel/prompts.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "prompts.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data = b
			loadedPath = p
			break
		}
	}

	if data == nil {
		fmt.Println("[Config] No prompts.yaml found, using defaults")
		return DefaultPromptsConfig(), nil
	}

	fmt.Printf("[Config] Loading prompts from: %s\n", loadedPath)
	return ParsePromptsConfig(data)
}

// ParsePromptsConfig parses YAML and fills defaults for empty values
func ParsePromptsConfig(data []byte) (*PromptsConfig, error) {
	var config PromptsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse prompts.yaml: %w", err)
	}
	config.fillDefaults()
	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *PromptsConfig) fillDefaults() {
	d := DefaultPromptsConfig()

	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&c.Assistant.SystemPrompt, d.Assistant.SystemPrompt)
	fill(&c.Assistant.HistoryMarker, d.Assistant.HistoryMarker)
	fill(&c.Assistant.ParticipantsHeader, d.Assistant.ParticipantsHeader)
	fill(&c.Assistant.KnowledgeHeader, d.Assistant.KnowledgeHeader)
	fill(&c.Assistant.ExamplesHeader, d.Assistant.ExamplesHeader)
	fill(&c.Assistant.ImageRewritePrompt, d.Assistant.ImageRewritePrompt)
	fill(&c.Assistant.VisionPrompt, d.Assistant.VisionPrompt)
	fill(&c.Assistant.ExtractionPrompt, d.Assistant.ExtractionPrompt)

	fill(&c.Messages.HistoryReset, d.Messages.HistoryReset)
	fill(&c.Messages.QuotaExceeded, d.Messages.QuotaExceeded)
	fill(&c.Messages.PolicyRejected, d.Messages.PolicyRejected)
	fill(&c.Messages.ProviderError, d.Messages.ProviderError)
	fill(&c.Messages.VideoUnsupported, d.Messages.VideoUnsupported)
	fill(&c.Messages.MusicUnsupported, d.Messages.MusicUnsupported)

	if c.History.ChannelMessages == 0 {
		c.History.ChannelMessages = d.History.ChannelMessages
	}
	if c.History.TrainingExamples == 0 {
		c.History.TrainingExamples = d.History.TrainingExamples
	}
	if c.History.KnowledgeEntries == 0 {
		c.History.KnowledgeEntries = d.History.KnowledgeEntries
	}

	if len(c.Providers) == 0 {
		c.Providers = d.Providers
	}
	for i := range c.Providers {
		if c.Providers[i].Kind == "" {
			c.Providers[i].Kind = domain.ProviderOpenAICompatible
		}
	}
}

// resolveAPIKeys reads each provider key from its configured env variable
func (c *PromptsConfig) resolveAPIKeys(getenv func(string) string) {
	for i := range c.Providers {
		if c.Providers[i].APIKeyEnv != "" {
			c.Providers[i].APIKey = getenv(c.Providers[i].APIKeyEnv)
		}
	}
}

// DefaultPromptsConfig returns the default prompts configuration
func DefaultPromptsConfig() *PromptsConfig {
	return &PromptsConfig{
		Assistant: AssistantPrompts{
			SystemPrompt: `You are {{bot_name}}, an assistant living in the chat server "{{server}}", channel #{{channel}}.
The current time is {{now}}.

## Rules
1. Answer directly; your text is posted to the channel as-is
2. Keep answers concise unless asked for detail
3. Use the tools when the question needs live data (search, weather, currency, time)
4. Never invent facts about people in the channel`,
			HistoryMarker:      "[Recent channel messages - for reference]",
			ParticipantsHeader: "## Other participants",
			KnowledgeHeader:    "## Things you have learned",
			ExamplesHeader:     "## Example answers in the expected style",
			ImageRewritePrompt: `Rewrite the user's image request into one short, descriptive, policy-safe prompt for an image model.
If a reference image description is given, incorporate it. Output only the prompt.`,
			VisionPrompt: "Describe this image in detail so that another model can recreate or edit it.",
			ExtractionPrompt: `Extract durable facts worth remembering from this exchange.
Return a JSON array of objects {"category": "fact|preference|identity", "key": "...", "value": "...", "confidence": 0.0-1.0}.
Return [] when there is nothing worth remembering.`,
		},
		Messages: ReplyMessages{
			HistoryReset:     "[Conversation history was reset]",
			QuotaExceeded:    "You have reached the {{window}} token limit ({{used}}/{{limit}}). Please try again after the limit resets.",
			PolicyRejected:   "Sorry, the image provider rejected this request because it may violate its content policy. Try describing it differently.",
			ProviderError:    "Sorry, the AI provider is unavailable right now. Please try again in a moment.",
			VideoUnsupported: "Video generation is not supported yet.",
			MusicUnsupported: "Music generation is not supported yet.",
		},
		History: HistoryConfig{
			ChannelMessages:  15,
			TrainingExamples: 5,
			KnowledgeEntries: 20,
		},
		Providers: []domain.ProviderConfig{
			{
				ID:           "openai",
				Kind:         domain.ProviderOpenAICompatible,
				BaseURL:      "https://api.openai.com/v1",
				APIKeyEnv:    "OPENAI_API_KEY",
				Capabilities: []domain.Capability{domain.CapChat, domain.CapTools, domain.CapVision, domain.CapImage, domain.CapSpeech},
				Models: []domain.ModelInfo{
					{ID: "gpt-4o-mini", Mode: domain.ModeChat, PromptPer1K: decimal.RequireFromString("0.00015"), CompletionPer1K: decimal.RequireFromString("0.0006")},
					{ID: "gpt-4o", Mode: domain.ModeChat, PromptPer1K: decimal.RequireFromString("0.0025"), CompletionPer1K: decimal.RequireFromString("0.01")},
					{ID: "dall-e-3", Mode: domain.ModeImage, PerImage: decimal.RequireFromString("0.04")},
					{ID: "tts-1", Mode: domain.ModeAudio, PromptPer1K: decimal.RequireFromString("0.015")},
				},
			},
			{
				ID:           "moonshot",
				Kind:         domain.ProviderOpenAICompatible,
				BaseURL:      "https://api.moonshot.cn/v1",
				APIKeyEnv:    "MOONSHOT_API_KEY",
				Capabilities: []domain.Capability{domain.CapChat, domain.CapTools},
				Models: []domain.ModelInfo{
					{ID: "moonshot-v1-8k", Mode: domain.ModeChat, PromptPer1K: decimal.RequireFromString("0.0017"), CompletionPer1K: decimal.RequireFromString("0.0017")},
				},
			},
		},
	}
}
