package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// runImagePipeline generates an image in three steps:
//  1. describe attached images with a vision provider (optional)
//  2. rewrite the request into a safe image prompt with a chat provider
//  3. generate with an image provider
//
// Steps 1 and 2 degrade silently; step 3 failures become user-facing replies.
func (uc *ConversationUsecase) runImagePipeline(ctx context.Context, env *TenantEnv, s *domain.AiSession, ev *domain.Event) *Reply {
	log := env.logger().WithField("session_id", s.ID)

	description := ""
	if images := ev.Images(); len(images) > 0 {
		description = uc.describeImages(ctx, env, s, ev, images)
	}

	prompt := uc.rewriteImagePrompt(ctx, env, s, ev, description)

	provider := uc.pickProvider(s.Provider, domain.CapImage)
	if provider == nil {
		log.Warn("no image provider configured")
		return &Reply{Text: uc.replies.ProviderError}
	}
	model := provider.DefaultModelFor(domain.ModeImage)
	if s.Mode == domain.ModeImage && s.Model != "" && provider.ID == s.Provider {
		model = s.Model
	}

	result, err := uc.providers.GenerateImage(ctx, provider.ID, repo.ImageRequest{
		Model:  model,
		Prompt: prompt,
		Size:   "1024x1024",
	})
	recordAIRequest(provider.ID, string(domain.RequestImage), err)
	if err != nil {
		if errors.Is(err, repo.ErrContentPolicy) {
			log.WithError(err).Info("image request rejected by provider policy")
			return &Reply{Text: uc.replies.PolicyRejected, Rejected: true}
		}
		log.WithError(err).Warn("image generation failed")
		return &Reply{Text: uc.replies.ProviderError}
	}

	uc.recordUsage(ctx, env, &domain.UsageLogEntry{
		TenantID:    s.TenantID,
		ProviderID:  provider.ID,
		UserID:      ev.UserID,
		RequestType: domain.RequestImage,
		Model:       model,
		ImageCount:  1,
		CostUSD:     CostFor(provider.Model(model), 0, 0, 1),
	})

	reply := &Reply{Text: prompt}
	if len(result.Data) > 0 {
		reply.Files = append(reply.Files, ReplyFile{Name: "image.png", Data: result.Data})
	} else if result.URL != "" {
		reply.Text = prompt + "\n" + result.URL
	}
	return reply
}

// describeImages returns a vision description of the attachments, "" on failure
func (uc *ConversationUsecase) describeImages(ctx context.Context, env *TenantEnv, s *domain.AiSession, ev *domain.Event, images []domain.Attachment) string {
	provider := uc.pickProvider(s.Provider, domain.CapVision)
	if provider == nil {
		return ""
	}
	model := provider.DefaultModelFor(domain.ModeChat)
	resp, err := uc.providers.Chat(ctx, provider.ID, repo.ChatRequest{
		Model: model,
		Messages: []repo.ChatMessage{
			{Role: domain.RoleSystem, Content: uc.replies.VisionDescribe},
			{Role: domain.RoleUser, Content: ev.Content, ImageURLs: imageURLs(images)},
		},
		MaxTokens: 500,
	})
	recordAIRequest(provider.ID, string(domain.RequestVision), err)
	if err != nil {
		env.logger().WithError(err).Debug("vision describe failed")
		return ""
	}
	uc.recordUsage(ctx, env, &domain.UsageLogEntry{
		TenantID:    s.TenantID,
		ProviderID:  provider.ID,
		UserID:      ev.UserID,
		TokensUsed:  resp.TotalTokens(),
		RequestType: domain.RequestVision,
		Model:       model,
		CostUSD:     CostFor(provider.Model(model), resp.PromptTokens, resp.CompletionTokens, 0),
	})
	return strings.TrimSpace(resp.Content)
}

// rewriteImagePrompt turns the user's request into an image prompt; falls back to the raw text
func (uc *ConversationUsecase) rewriteImagePrompt(ctx context.Context, env *TenantEnv, s *domain.AiSession, ev *domain.Event, description string) string {
	request := strings.TrimSpace(strings.TrimPrefix(ev.Content, "/imagine"))
	if request == "" {
		request = ev.Content
	}
	provider := uc.pickProvider(s.Provider, domain.CapChat)
	if provider == nil {
		return request
	}
	input := request
	if description != "" {
		input = "Reference image: " + description + "\n\nRequest: " + request
	}
	model := provider.DefaultModelFor(domain.ModeChat)
	resp, err := uc.providers.Chat(ctx, provider.ID, repo.ChatRequest{
		Model: model,
		Messages: []repo.ChatMessage{
			{Role: domain.RoleSystem, Content: uc.replies.ImageRewrite},
			{Role: domain.RoleUser, Content: input},
		},
		MaxTokens: 300,
	})
	recordAIRequest(provider.ID, string(domain.RequestChat), err)
	if err != nil {
		env.logger().WithError(err).Debug("image prompt rewrite failed")
		return request
	}
	uc.recordUsage(ctx, env, &domain.UsageLogEntry{
		TenantID:    s.TenantID,
		ProviderID:  provider.ID,
		UserID:      ev.UserID,
		TokensUsed:  resp.TotalTokens(),
		RequestType: domain.RequestChat,
		Model:       model,
		CostUSD:     CostFor(provider.Model(model), resp.PromptTokens, resp.CompletionTokens, 0),
	})
	if rewritten := strings.TrimSpace(resp.Content); rewritten != "" {
		return rewritten
	}
	return request
}
