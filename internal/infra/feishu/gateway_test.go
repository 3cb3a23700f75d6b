package feishu

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["app_secret"] != "good-secret" {
			_, _ = io.WriteString(w, `{"code": 10014, "msg": "app secret invalid"}`)
			return
		}
		_, _ = io.WriteString(w, `{"code": 0, "msg": "ok", "tenant_access_token": "t-abc", "expire": 7200}`)
	})
	mux.HandleFunc("/open-apis/bot/v3/info", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t-abc", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"code": 0, "msg": "ok", "bot": {"open_id": "ou_bot", "app_name": "Panel Bot", "avatar_url": "https://example.com/a.png"}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewGateway(srv.URL+"/", log)
}

func TestGateway_TokenAndIdentity(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	token, err := g.tenantToken(ctx, "cli_1", "good-secret")
	require.NoError(t, err)
	assert.Equal(t, "t-abc", token)

	id, err := g.botInfo(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, repo.Identity{BotUserID: "ou_bot", DisplayName: "Panel Bot", AvatarURL: "https://example.com/a.png"}, id)
}

func TestGateway_InvalidCredential(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	_, err := g.tenantToken(ctx, "cli_1", "bad-secret")
	assert.ErrorIs(t, err, repo.ErrInvalidCredential)
	assert.Contains(t, err.Error(), "app secret invalid")

	_, err = g.tenantToken(ctx, "", "")
	assert.ErrorIs(t, err, repo.ErrInvalidCredential)
}

func TestAckSet_FirstClaimWins(t *testing.T) {
	acks := newAckSet()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, acks.claim("om_1", now))
	assert.False(t, acks.claim("om_1", now.Add(time.Second)))
	assert.True(t, acks.claim("om_2", now))
	assert.True(t, acks.claim("om_1", now.Add(2*time.Hour)), "old acknowledgements expire")
}

func TestTextHelpers(t *testing.T) {
	assert.Equal(t, `<at user_id="ou_1">Ann</at>`, mentionTag("ou_1", "Ann"))
	assert.JSONEq(t, `{"text":"say \"hi\""}`, textContent(`say "hi"`))
	assert.True(t, isMessageID("om_123"))
	assert.False(t, isMessageID("oc_123"))
}
