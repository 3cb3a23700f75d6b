package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"github.com/sirupsen/logrus"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

const defaultBaseURL = "https://open.feishu.cn"

// Gateway connects tenants to Feishu/Lark over the websocket event stream
type Gateway struct {
	baseURL string
	http    *http.Client
	log     logrus.FieldLogger
}

// NewGateway creates a gateway for the given open platform base URL
func NewGateway(baseURL string, log logrus.FieldLogger) *Gateway {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

// Connect validates the credential, learns the bot identity and starts the
// event stream. Bad credentials return repo.ErrInvalidCredential.
func (g *Gateway) Connect(ctx context.Context, bot *domain.Bot, handler repo.EventHandler) (repo.GatewaySession, error) {
	log := g.log.WithField("tenant_id", bot.ID)

	token, err := g.tenantToken(ctx, bot.AppID, bot.AppSecret)
	if err != nil {
		return nil, err
	}
	identity, err := g.botInfo(ctx, token)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		tenantID: bot.ID,
		identity: identity,
		lark:     lark.NewClient(bot.AppID, bot.AppSecret, lark.WithOpenBaseUrl(g.baseURL)),
		handler:  handler,
		log:      log,
		ctx:      sctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		acks:     newAckSet(),
		commands: make(map[string]bool),
		names:    make(map[string]string),
		chats:    make(map[string]string),
	}

	// Handlers must return quickly so the SDK can ACK; otherwise the platform redelivers
	events := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
			go s.handleMessage(event)
			return nil
		}).
		OnP2ChatMemberUserAddedV1(func(_ context.Context, event *larkim.P2ChatMemberUserAddedV1) error {
			go s.handleMemberAdded(event)
			return nil
		})

	ws := larkws.NewClient(bot.AppID, bot.AppSecret,
		larkws.WithEventHandler(events),
		larkws.WithLogLevel(larkcore.LogLevelWarn),
	)
	go func() {
		err := ws.Start(sctx)
		if err == nil {
			err = errors.New("event stream ended")
		}
		s.finish(err)
	}()

	log.WithField("bot_open_id", identity.BotUserID).Info("gateway connected")
	return s, nil
}

// tenantToken exchanges the app credential for a tenant access token
func (g *Gateway) tenantToken(ctx context.Context, appID, appSecret string) (string, error) {
	if appID == "" || appSecret == "" {
		return "", fmt.Errorf("%w: app id and secret are required", repo.ErrInvalidCredential)
	}
	body, _ := json.Marshal(map[string]string{"app_id": appID, "app_secret": appSecret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/open-apis/auth/v3/tenant_access_token/internal", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if result.Code != 0 || result.TenantAccessToken == "" {
		return "", fmt.Errorf("%w: %s (code %d)", repo.ErrInvalidCredential, result.Msg, result.Code)
	}
	return result.TenantAccessToken, nil
}

// botInfo fetches the bot's own open_id, name and avatar
func (g *Gateway) botInfo(ctx context.Context, token string) (repo.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/open-apis/bot/v3/info", nil)
	if err != nil {
		return repo.Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.http.Do(req)
	if err != nil {
		return repo.Identity{}, fmt.Errorf("get bot info: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Bot  struct {
			OpenID    string `json:"open_id"`
			AppName   string `json:"app_name"`
			AvatarURL string `json:"avatar_url"`
		} `json:"bot"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return repo.Identity{}, fmt.Errorf("decode bot info: %w", err)
	}
	if result.Code != 0 {
		return repo.Identity{}, fmt.Errorf("bot info error: %s", result.Msg)
	}
	return repo.Identity{
		BotUserID:   result.Bot.OpenID,
		DisplayName: result.Bot.AppName,
		AvatarURL:   result.Bot.AvatarURL,
	}, nil
}

// ackSet remembers answered interactions; the first claim wins
type ackSet struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newAckSet() *ackSet {
	return &ackSet{seen: make(map[string]time.Time)}
}

func (a *ackSet) claim(id string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, t := range a.seen {
		if now.Sub(t) > time.Hour {
			delete(a.seen, k)
		}
	}
	if _, ok := a.seen[id]; ok {
		return false
	}
	a.seen[id] = now
	return true
}

// mentionTag renders a mention in Feishu text syntax
func mentionTag(userID, name string) string {
	return fmt.Sprintf(`<at user_id="%s">%s</at>`, userID, name)
}

// textContent encodes a text message body
func textContent(text string) string {
	b, _ := json.Marshal(map[string]string{"text": text})
	return string(b)
}

// isMessageID reports whether a conversation id is a thread root message
func isMessageID(id string) bool {
	return strings.HasPrefix(id, "om_")
}
