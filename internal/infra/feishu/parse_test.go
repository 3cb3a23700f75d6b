package feishu

import (
	"encoding/json"
	"testing"
	"time"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
)

func receiveEvent(t *testing.T, payload string) *larkim.P2MessageReceiveV1 {
	t.Helper()
	var e larkim.P2MessageReceiveV1
	require.NoError(t, json.Unmarshal([]byte(`{"event":`+payload+`}`), &e))
	return &e
}

var registered = map[string]bool{"weather": true}

func TestParseMessageEvent_CommandAfterBotMention(t *testing.T) {
	e := receiveEvent(t, `{
		"sender": {"sender_id": {"open_id": "ou_user"}, "sender_type": "user", "tenant_key": "tk"},
		"message": {
			"message_id": "om_1", "chat_id": "oc_1", "chat_type": "group", "message_type": "text",
			"create_time": "1700000000000",
			"content": "{\"text\":\"@_user_1 /Weather city=Paris tomorrow please\"}",
			"mentions": [{"key": "@_user_1", "id": {"open_id": "ou_bot"}, "name": "Bot"}]
		}
	}`)

	in := parseMessageEvent("bot-1", "ou_bot", e, registered)
	require.NotNil(t, in)
	ev := in.event
	assert.Equal(t, domain.EventInteraction, ev.Type)
	assert.Equal(t, "weather", ev.Command)
	assert.Equal(t, "Paris", ev.Options["city"])
	assert.Equal(t, "tomorrow please", ev.Options["text"])
	assert.Equal(t, "tomorrow please", ev.Content)
	assert.Equal(t, "om_1", ev.ID)
	assert.Equal(t, "bot-1", ev.TenantID)
	assert.Equal(t, "oc_1", ev.ChannelID)
	assert.Equal(t, "ou_user", ev.UserID)
	assert.Equal(t, "tk", ev.ServerID)
	assert.Equal(t, time.UnixMilli(1700000000000), ev.CreatedAt)
	assert.Empty(t, ev.ThreadID)
}

func TestParseMessageEvent_UnregisteredCommandStaysMessage(t *testing.T) {
	e := receiveEvent(t, `{
		"sender": {"sender_id": {"open_id": "ou_user"}, "sender_type": "user"},
		"message": {"message_id": "om_2", "chat_id": "oc_1", "message_type": "text", "root_id": "om_root",
			"content": "{\"text\":\"/dance now\"}"}
	}`)
	in := parseMessageEvent("bot-1", "ou_bot", e, registered)
	require.NotNil(t, in)
	assert.Equal(t, domain.EventMessage, in.event.Type)
	assert.Equal(t, "/dance now", in.event.Content)
	assert.Equal(t, "om_root", in.event.ThreadID)
	assert.Equal(t, "om_root", in.event.ConversationChannel())
}

func TestParseMessageEvent_DropsAppsAndUnsupportedTypes(t *testing.T) {
	fromApp := receiveEvent(t, `{
		"sender": {"sender_id": {"open_id": "ou_bot"}, "sender_type": "app"},
		"message": {"message_id": "om_3", "chat_id": "oc_1", "message_type": "text", "content": "{\"text\":\"hi\"}"}
	}`)
	assert.Nil(t, parseMessageEvent("bot-1", "ou_bot", fromApp, registered))

	sticker := receiveEvent(t, `{
		"sender": {"sender_id": {"open_id": "ou_user"}, "sender_type": "user"},
		"message": {"message_id": "om_4", "chat_id": "oc_1", "message_type": "sticker", "content": "{}"}
	}`)
	assert.Nil(t, parseMessageEvent("bot-1", "ou_bot", sticker, registered))

	assert.Nil(t, parseMessageEvent("bot-1", "ou_bot", &larkim.P2MessageReceiveV1{}, registered))
}

func TestParseMessageEvent_PostWithImageAndMention(t *testing.T) {
	post := `{"title":"","content":[[{"tag":"text","text":"look at this "},{"tag":"at","user_id":"@_user_1"}],[{"tag":"img","image_key":"img_1"}]]}`
	raw, err := json.Marshal(post)
	require.NoError(t, err)

	e := receiveEvent(t, `{
		"sender": {"sender_id": {"open_id": "ou_user"}, "sender_type": "user"},
		"message": {"message_id": "om_5", "chat_id": "oc_1", "message_type": "post",
			"content": `+string(raw)+`,
			"mentions": [{"key": "@_user_1", "id": {"open_id": "ou_alice"}, "name": "Alice"}]}
	}`)
	in := parseMessageEvent("bot-1", "ou_bot", e, registered)
	require.NotNil(t, in)
	assert.Equal(t, "look at this @Alice", in.event.Content)
	assert.Equal(t, []string{"img_1"}, in.imageKeys)
	require.Len(t, in.event.Attachments, 1)
	assert.True(t, in.event.Attachments[0].IsImage())
	assert.Len(t, in.event.Images(), 1)
}

func TestParseCommand(t *testing.T) {
	name, opts, rest, ok := parseCommand("/set-state key=mood value=happy")
	require.True(t, ok)
	assert.Equal(t, "setstate", name)
	assert.Equal(t, map[string]string{"key": "mood", "value": "happy"}, opts)
	assert.Empty(t, rest)

	for _, text := range []string{"", "hello", "/", "/ ", "/!!!"} {
		_, _, _, ok := parseCommand(text)
		assert.False(t, ok, text)
	}
}

func TestReplaceMentions_LongestKeyFirst(t *testing.T) {
	out := replaceMentions("@_user_1 and @_user_10", map[string]string{
		"@_user_1":  "@Ann",
		"@_user_10": "@Ben",
	})
	assert.Equal(t, "@Ann and @Ben", out)
}
