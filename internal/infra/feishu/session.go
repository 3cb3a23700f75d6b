package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/sirupsen/logrus"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

const (
	// Messages older than this go through individual deletes
	bulkDeleteHorizon = 14 * 24 * time.Hour
	maxImageBytes     = 10 << 20
	historyPageSize   = 50
)

// session is one live tenant connection
type session struct {
	tenantID string
	identity repo.Identity
	lark     *lark.Client
	handler  repo.EventHandler
	log      logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
	done chan struct{}
	err  error

	acks *ackSet

	mu       sync.RWMutex
	commands map[string]bool
	names    map[string]string // open_id -> display name
	chats    map[string]string // chat_id -> name
}

func (s *session) Identity() repo.Identity { return s.identity }

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Close stops the event stream
func (s *session) Close() error {
	s.finish(nil)
	return nil
}

func (s *session) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.cancel()
		close(s.done)
		if err != nil {
			s.log.WithError(err).Warn("gateway disconnected")
		}
	})
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// RegisterCommands sets the names that turn "/name ..." messages into interactions.
// Feishu has no command registry, so the set lives in the session.
func (s *session) RegisterCommands(ctx context.Context, cmds []domain.CommandSpec) error {
	set := make(map[string]bool, len(cmds))
	for _, c := range cmds {
		set[domain.NormalizeCommandName(c.Name)] = true
	}
	s.mu.Lock()
	s.commands = set
	s.mu.Unlock()
	s.log.WithField("commands", len(set)).Debug("commands registered")
	return nil
}

func (s *session) commandSet() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commands
}

func (s *session) handleMessage(event *larkim.P2MessageReceiveV1) {
	if s.closed() {
		return
	}
	in := parseMessageEvent(s.tenantID, s.identity.BotUserID, event, s.commandSet())
	if in == nil {
		return
	}
	ev := in.event
	for i := range ev.Attachments {
		data, err := s.downloadImage(s.ctx, ev.ID, ev.Attachments[i].ID)
		if err != nil {
			s.log.WithError(err).WithField("image_key", ev.Attachments[i].ID).Warn("failed to download image")
			continue
		}
		ev.Attachments[i].Data = data
	}
	ev.ChannelName = s.chatName(s.ctx, ev.ChannelID)
	ev.ServerName = ev.ChannelName
	ev.Username = s.memberName(s.ctx, ev.ChannelID, ev.UserID)

	s.handler(s.ctx, ev)
}

func (s *session) handleMemberAdded(event *larkim.P2ChatMemberUserAddedV1) {
	if s.closed() || event == nil || event.Event == nil {
		return
	}
	chatID := str(event.Event.ChatId)
	for _, u := range event.Event.Users {
		if u == nil || u.UserId == nil {
			continue
		}
		openID := str(u.UserId.OpenId)
		name := str(u.Name)
		s.mu.Lock()
		s.names[openID] = name
		s.mu.Unlock()

		s.handler(s.ctx, &domain.Event{
			ID:          "join:" + chatID + ":" + openID,
			Type:        domain.EventMemberJoin,
			TenantID:    s.tenantID,
			ChannelID:   chatID,
			ChannelName: s.chatName(s.ctx, chatID),
			UserID:      openID,
			Username:    name,
			CreatedAt:   time.Now(),
		})
	}
}

// downloadImage fetches a message image into memory
func (s *session) downloadImage(ctx context.Context, messageID, imageKey string) ([]byte, error) {
	req := larkim.NewGetMessageResourceReqBuilder().
		MessageId(messageID).
		FileKey(imageKey).
		Type("image").
		Build()

	resp, err := s.lark.Im.MessageResource.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("get image error: %s", resp.Msg)
	}
	return io.ReadAll(io.LimitReader(resp.File, maxImageBytes))
}

// chatName returns the cached chat name, falling back to the id
func (s *session) chatName(ctx context.Context, chatID string) string {
	s.mu.RLock()
	name, ok := s.chats[chatID]
	s.mu.RUnlock()
	if ok {
		return name
	}
	info, err := s.FetchChannel(ctx, chatID)
	if err != nil {
		s.log.WithError(err).Debug("failed to fetch chat info")
		return chatID
	}
	s.mu.Lock()
	s.chats[chatID] = info.Name
	s.mu.Unlock()
	return info.Name
}

// memberName returns the cached member name, loading the chat roster on a miss
func (s *session) memberName(ctx context.Context, chatID, openID string) string {
	s.mu.RLock()
	name, ok := s.names[openID]
	s.mu.RUnlock()
	if ok {
		return name
	}
	members, err := s.chatMembers(ctx, chatID)
	if err != nil {
		s.log.WithError(err).Debug("failed to fetch chat members")
		return openID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		s.names[m.UserID] = m.Name
	}
	if name, ok := s.names[openID]; ok {
		return name
	}
	s.names[openID] = openID
	return openID
}

// chatMembers retrieves all members of a chat page by page
func (s *session) chatMembers(ctx context.Context, chatID string) ([]domain.Member, error) {
	var members []domain.Member
	var pageToken string
	for {
		builder := larkim.NewGetChatMembersReqBuilder().
			MemberIdType("open_id").
			ChatId(chatID).
			PageSize(100)
		if pageToken != "" {
			builder = builder.PageToken(pageToken)
		}

		resp, err := s.lark.Im.ChatMembers.Get(ctx, builder.Build())
		if err != nil {
			return nil, fmt.Errorf("get chat members: %w", err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("get chat members error: %s", resp.Msg)
		}
		for _, item := range resp.Data.Items {
			members = append(members, domain.Member{UserID: str(item.MemberId), Name: str(item.Name)})
		}
		if resp.Data.PageToken == nil || *resp.Data.PageToken == "" {
			return members, nil
		}
		pageToken = *resp.Data.PageToken
	}
}

// send posts a message to a chat, or replies inside the thread when the
// target is a thread root message id
func (s *session) send(ctx context.Context, target, msgType, content string) (string, error) {
	if isMessageID(target) {
		req := larkim.NewReplyMessageReqBuilder().
			MessageId(target).
			Body(larkim.NewReplyMessageReqBodyBuilder().
				MsgType(msgType).
				Content(content).
				ReplyInThread(true).
				Build()).
			Build()
		resp, err := s.lark.Im.Message.Reply(ctx, req)
		if err != nil {
			return "", fmt.Errorf("reply message: %w", err)
		}
		if !resp.Success() {
			return "", fmt.Errorf("reply message error: %s", resp.Msg)
		}
		return str(resp.Data.MessageId), nil
	}
	return s.create(ctx, larkim.ReceiveIdTypeChatId, target, msgType, content)
}

func (s *session) create(ctx context.Context, idType, receiveID, msgType, content string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(idType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := s.lark.Im.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("send message error: %s", resp.Msg)
	}
	return str(resp.Data.MessageId), nil
}

func (s *session) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	return s.send(ctx, channelID, larkim.MsgTypeText, textContent(text))
}

func (s *session) SendDM(ctx context.Context, userID, text string) error {
	_, err := s.create(ctx, larkim.ReceiveIdTypeOpenId, userID, larkim.MsgTypeText, textContent(text))
	return err
}

// SendFile uploads images as images and everything else as a file message
func (s *session) SendFile(ctx context.Context, channelID, name string, data []byte) error {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		req := larkim.NewCreateImageReqBuilder().
			Body(larkim.NewCreateImageReqBodyBuilder().
				ImageType("message").
				Image(bytes.NewReader(data)).
				Build()).
			Build()
		resp, err := s.lark.Im.Image.Create(ctx, req)
		if err != nil {
			return fmt.Errorf("upload image: %w", err)
		}
		if !resp.Success() {
			return fmt.Errorf("upload image error: %s", resp.Msg)
		}
		content, _ := json.Marshal(map[string]string{"image_key": str(resp.Data.ImageKey)})
		_, err = s.send(ctx, channelID, "image", string(content))
		return err
	default:
		req := larkim.NewCreateFileReqBuilder().
			Body(larkim.NewCreateFileReqBodyBuilder().
				FileType("stream").
				FileName(name).
				File(bytes.NewReader(data)).
				Build()).
			Build()
		resp, err := s.lark.Im.File.Create(ctx, req)
		if err != nil {
			return fmt.Errorf("upload file: %w", err)
		}
		if !resp.Success() {
			return fmt.Errorf("upload file error: %s", resp.Msg)
		}
		content, _ := json.Marshal(map[string]string{"file_key": str(resp.Data.FileKey)})
		_, err = s.send(ctx, channelID, "file", string(content))
		return err
	}
}

// Respond answers an interaction by replying to its message. Ephemeral
// answers go to the user privately.
func (s *session) Respond(ctx context.Context, ev *domain.Event, text string, ephemeral bool) error {
	if !s.acks.claim(ev.ID, time.Now()) {
		return repo.ErrAlreadyAcknowledged
	}
	if ephemeral {
		return s.SendDM(ctx, ev.UserID, text)
	}
	target := ev.ID
	if !isMessageID(target) {
		target = ev.ConversationChannel()
	}
	_, err := s.send(ctx, target, larkim.MsgTypeText, textContent(text))
	return err
}

func (s *session) MentionUser(userID, name string) string {
	return mentionTag(userID, name)
}

func (s *session) FetchChannel(ctx context.Context, channelID string) (*repo.ChannelInfo, error) {
	req := larkim.NewGetChatReqBuilder().ChatId(channelID).Build()
	resp, err := s.lark.Im.Chat.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get chat info: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("get chat info error: %s", resp.Msg)
	}
	return &repo.ChannelInfo{
		ChannelID: channelID,
		Name:      str(resp.Data.Name),
		ServerID:  str(resp.Data.OwnerId),
	}, nil
}

// FetchMessages lists recent messages newest first
func (s *session) FetchMessages(ctx context.Context, channelID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	var pageToken string
	for len(out) < limit {
		pageSize := limit - len(out)
		if pageSize > historyPageSize {
			pageSize = historyPageSize
		}
		builder := larkim.NewListMessageReqBuilder().
			ContainerIdType("chat").
			ContainerId(channelID).
			SortType("ByCreateTimeDesc").
			PageSize(pageSize)
		if pageToken != "" {
			builder = builder.PageToken(pageToken)
		}

		resp, err := s.lark.Im.Message.List(ctx, builder.Build())
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("list messages error: %s", resp.Msg)
		}

		for _, item := range resp.Data.Items {
			mentions := make(map[string]string)
			for _, m := range item.Mentions {
				if m != nil && m.Key != nil {
					mentions[*m.Key] = "@" + str(m.Name)
				}
			}
			msg := domain.Message{
				ID:         str(item.MessageId),
				ChannelID:  channelID,
				CreateTime: parseMillis(str(item.CreateTime)),
			}
			if item.Body != nil {
				raw := str(item.Body.Content)
				switch str(item.MsgType) {
				case "text":
					msg.Content = parseTextContent(raw, mentions)
				case "post":
					msg.Content, _ = parsePostContent(raw, mentions)
				case "image":
					msg.Content = "[Image]"
				default:
					msg.Content = raw
				}
			}
			if item.Sender != nil {
				msg.AuthorID = str(item.Sender.Id)
				msg.IsBot = str(item.Sender.SenderType) == "app"
			}
			msg.AuthorName = msg.AuthorID
			if msg.IsBot && msg.AuthorID == s.identity.BotUserID {
				msg.AuthorName = s.identity.DisplayName
			} else if !msg.IsBot {
				msg.AuthorName = s.memberName(ctx, channelID, msg.AuthorID)
			}
			out = append(out, msg)
		}

		if resp.Data.HasMore == nil || !*resp.Data.HasMore || resp.Data.PageToken == nil {
			break
		}
		pageToken = *resp.Data.PageToken
	}
	return out, nil
}

// BulkDeleteMessages recalls a batch. The platform has no batch endpoint, so
// the batch is recalled message by message and stops at the first failure.
func (s *session) BulkDeleteMessages(ctx context.Context, channelID string, ids []string) error {
	for i, id := range ids {
		if err := s.DeleteMessage(ctx, channelID, id); err != nil {
			return &repo.BulkDeleteError{Deleted: ids[:i], Err: err}
		}
	}
	return nil
}

func (s *session) DeleteMessage(ctx context.Context, channelID, id string) error {
	req := larkim.NewDeleteMessageReqBuilder().MessageId(id).Build()
	resp, err := s.lark.Im.Message.Delete(ctx, req)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("delete message error: %s", resp.Msg)
	}
	return nil
}

func (s *session) BulkDeleteHorizon() time.Duration { return bulkDeleteHorizon }

// ArchiveThread posts a closing note into the thread. Feishu threads cannot
// be locked by bots.
func (s *session) ArchiveThread(ctx context.Context, threadID string) error {
	_, err := s.send(ctx, threadID, larkim.MsgTypeText, textContent("🔒 This conversation has been closed."))
	return err
}
