package feishu

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
)

// incoming is a received message before attachments are downloaded
type incoming struct {
	event     *domain.Event
	imageKeys []string
}

// parseMessageEvent converts a message receive event. Messages sent by apps
// (including this bot) and unsupported message types are dropped.
// Text starting with "/" whose name is in commands becomes an interaction.
func parseMessageEvent(tenantID, botOpenID string, e *larkim.P2MessageReceiveV1, commands map[string]bool) *incoming {
	if e == nil || e.Event == nil || e.Event.Message == nil {
		return nil
	}
	raw := e.Event.Message
	if sender := e.Event.Sender; sender != nil && str(sender.SenderType) == "app" {
		return nil
	}

	ev := &domain.Event{
		ID:        str(raw.MessageId),
		Type:      domain.EventMessage,
		TenantID:  tenantID,
		ChannelID: str(raw.ChatId),
		ThreadID:  str(raw.RootId),
		CreatedAt: parseMillis(str(raw.CreateTime)),
	}
	if sender := e.Event.Sender; sender != nil {
		if sender.SenderId != nil {
			ev.UserID = str(sender.SenderId.OpenId)
		}
		ev.ServerID = str(sender.TenantKey)
	}

	// Mention placeholders (@_user_1) map to names; the bot's own mention is
	// removed so "@Bot /ask" parses as a command
	mentions := make(map[string]string)
	for _, m := range raw.Mentions {
		if m == nil || m.Key == nil {
			continue
		}
		if m.Id != nil && botOpenID != "" && str(m.Id.OpenId) == botOpenID {
			mentions[*m.Key] = ""
			continue
		}
		mentions[*m.Key] = "@" + str(m.Name)
	}

	in := &incoming{event: ev}
	content := str(raw.Content)
	switch str(raw.MessageType) {
	case "text":
		ev.Content = parseTextContent(content, mentions)
	case "post":
		ev.Content, in.imageKeys = parsePostContent(content, mentions)
	case "image":
		in.imageKeys = parseImageContent(content)
	default:
		return nil
	}
	ev.Content = strings.TrimSpace(ev.Content)

	if name, opts, rest, ok := parseCommand(ev.Content); ok && commands[name] {
		ev.Type = domain.EventInteraction
		ev.Command = name
		ev.Options = opts
		ev.Content = rest
	}
	for _, key := range in.imageKeys {
		ev.Attachments = append(ev.Attachments, domain.Attachment{
			ID:          key,
			Name:        key + ".png",
			ContentType: "image/png",
		})
	}
	return in
}

// parseCommand splits "/name key=value free text" into its parts
func parseCommand(text string) (name string, opts map[string]string, rest string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, "", false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, "", false
	}
	name = domain.NormalizeCommandName(fields[0])
	if name == "" {
		return "", nil, "", false
	}
	opts = make(map[string]string)
	var free []string
	for _, f := range fields[1:] {
		if k, v, found := strings.Cut(f, "="); found && k != "" {
			opts[strings.ToLower(k)] = v
			continue
		}
		free = append(free, f)
	}
	rest = strings.Join(free, " ")
	if rest != "" {
		if _, exists := opts["text"]; !exists {
			opts["text"] = rest
		}
	}
	return name, opts, rest, true
}

// parseTextContent extracts text from a text message, resolving mention placeholders
func parseTextContent(content string, mentions map[string]string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return replaceMentions(parsed.Text, mentions)
}

// parseImageContent extracts the image key from an image message
func parseImageContent(content string) []string {
	var parsed struct {
		ImageKey string `json:"image_key"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || parsed.ImageKey == "" {
		return nil
	}
	return []string{parsed.ImageKey}
}

// parsePostContent extracts text and images from a rich text message
func parsePostContent(content string, mentions map[string]string) (string, []string) {
	var parsed struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag      string `json:"tag"`
			Text     string `json:"text,omitempty"`
			ImageKey string `json:"image_key,omitempty"`
			UserID   string `json:"user_id,omitempty"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return "", nil
	}

	var lines []string
	var imageKeys []string
	if parsed.Title != "" {
		lines = append(lines, parsed.Title)
	}
	for _, line := range parsed.Content {
		var parts []string
		for _, elem := range line {
			switch elem.Tag {
			case "text":
				if elem.Text != "" {
					parts = append(parts, elem.Text)
				}
			case "at":
				if name, ok := mentions[elem.UserID]; ok {
					if name != "" {
						parts = append(parts, name)
					}
				} else if elem.UserID != "" {
					parts = append(parts, "@"+elem.UserID)
				}
			case "img":
				if elem.ImageKey != "" {
					imageKeys = append(imageKeys, elem.ImageKey)
				}
			}
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, ""))
		}
	}
	return replaceMentions(strings.Join(lines, "\n"), mentions), imageKeys
}

// replaceMentions replaces mention placeholders with their display text
func replaceMentions(text string, mentions map[string]string) string {
	keys := make([]string, 0, len(mentions))
	for key := range mentions {
		keys = append(keys, key)
	}
	// Longest first so @_user_10 is not clobbered by @_user_1
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, key := range keys {
		text = strings.ReplaceAll(text, key, mentions[key])
	}
	return text
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
