package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ProviderKind tags how a provider is reached
type ProviderKind string

const (
	ProviderOpenAICompatible ProviderKind = "openai_compatible"
	ProviderAzure            ProviderKind = "azure"
)

// Capability is something a provider can do
type Capability string

const (
	CapChat   Capability = "chat"
	CapTools  Capability = "tools"
	CapVision Capability = "vision"
	CapImage  Capability = "image"
	CapSpeech Capability = "speech"
)

// ModelInfo is one catalog entry of a provider
type ModelInfo struct {
	ID   string      `yaml:"id" json:"id"`
	Mode SessionMode `yaml:"mode" json:"mode"` // chat, image or audio
	// Prices in USD
	PromptPer1K     decimal.Decimal `yaml:"prompt_per_1k" json:"prompt_per_1k"`
	CompletionPer1K decimal.Decimal `yaml:"completion_per_1k" json:"completion_per_1k"`
	PerImage        decimal.Decimal `yaml:"per_image" json:"per_image"`
}

// ProviderConfig is a tagged provider configuration with a capability descriptor
type ProviderConfig struct {
	ID           string       `yaml:"id"`
	Kind         ProviderKind `yaml:"kind"`
	BaseURL      string       `yaml:"base_url"`
	APIKeyEnv    string       `yaml:"api_key_env"`
	APIKey       string       `yaml:"-"`
	APIVersion   string       `yaml:"api_version"` // Azure only
	Capabilities []Capability `yaml:"capabilities"`
	Models       []ModelInfo  `yaml:"models"`
}

// Supports reports whether the provider declares a capability
func (p *ProviderConfig) Supports(c Capability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// ModelsFor lists catalog models usable in a mode. Auto mode lists chat models.
func (p *ProviderConfig) ModelsFor(mode SessionMode) []ModelInfo {
	mode = mode.Canonical()
	if mode == ModeAuto {
		mode = ModeChat
	}
	var out []ModelInfo
	for _, m := range p.Models {
		if m.Mode.Canonical() == mode {
			out = append(out, m)
		}
	}
	return out
}

// DefaultModelFor returns the first catalog model for a mode, or ""
func (p *ProviderConfig) DefaultModelFor(mode SessionMode) string {
	models := p.ModelsFor(mode)
	if len(models) == 0 {
		return ""
	}
	return models[0].ID
}

// Model looks up a catalog entry
func (p *ProviderConfig) Model(id string) *ModelInfo {
	for i := range p.Models {
		if p.Models[i].ID == id {
			return &p.Models[i]
		}
	}
	return nil
}

// modelNameModes maps fragments of provider model ids to the mode they serve.
// Ids matching none of them are chat models; unusable ids map to "".
var modelNameModes = []struct {
	fragment string
	mode     SessionMode
}{
	{"embed", ""},
	{"whisper", ""},
	{"transcribe", ""},
	{"moderation", ""},
	{"realtime", ""},
	{"dall-e", ModeImage},
	{"gpt-image", ModeImage},
	{"stable-diffusion", ModeImage},
	{"sdxl", ModeImage},
	{"flux", ModeImage},
	{"tts", ModeAudio},
}

// ClassifyModel guesses the mode of a model id reported by a provider API
func ClassifyModel(id string) SessionMode {
	lower := strings.ToLower(id)
	for _, m := range modelNameModes {
		if strings.Contains(lower, m.fragment) {
			return m.mode
		}
	}
	return ModeChat
}

// MergeModels returns the catalog models for a mode followed by fetched ids
// the catalog does not know, classified by name. Catalog entries keep their
// configured mode and prices.
func (p *ProviderConfig) MergeModels(mode SessionMode, fetched []string) []ModelInfo {
	out := p.ModelsFor(mode)
	mode = mode.Canonical()
	if mode == ModeAuto {
		mode = ModeChat
	}
	seen := make(map[string]bool, len(out))
	for _, m := range out {
		seen[m.ID] = true
	}
	for _, id := range fetched {
		if seen[id] || p.Model(id) != nil {
			continue
		}
		if ClassifyModel(id) == mode {
			out = append(out, ModelInfo{ID: id, Mode: mode})
			seen[id] = true
		}
	}
	return out
}
