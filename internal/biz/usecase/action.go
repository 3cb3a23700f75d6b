package usecase

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
)

// maxHTTPBody caps the response body kept from an http action
const maxHTTPBody = 64 << 10

// templateRe matches {name} and {name:arg} tokens
var templateRe = regexp.MustCompile(`\{([a-z]+)(?::([^{}]+))?\}`)

// render expands template tokens:
//
//	{user} {username} {userid} {channel} {server} {message} {command}
//	{option:name} {state:key} {http} {http:json.path}
//
// Unknown tokens are left as-is.
func (r *flowRun) render(ctx context.Context, text string) string {
	return templateRe.ReplaceAllStringFunc(text, func(token string) string {
		m := templateRe.FindStringSubmatch(token)
		name, arg := m[1], m[2]
		ev := r.ev
		switch name {
		case "user":
			if ev.UserID == "" {
				return ev.Username
			}
			return r.env.Gateway.MentionUser(ev.UserID, ev.Username)
		case "username":
			return ev.Username
		case "userid":
			return ev.UserID
		case "channel":
			if ev.ChannelName != "" {
				return ev.ChannelName
			}
			return ev.ChannelID
		case "server":
			if ev.ServerName != "" {
				return ev.ServerName
			}
			return ev.ServerID
		case "message":
			return ev.Content
		case "command":
			return ev.Command
		case "option":
			return ev.Options[arg]
		case "state":
			v, _, err := r.uc.state.GetState(ctx, r.env.Bot.ID, arg)
			if err != nil {
				r.log.WithError(err).WithField("key", arg).Debug("state lookup failed")
			}
			return v
		case "http":
			body := r.vars["http"]
			if arg == "" {
				return body
			}
			return gjson.Get(body, arg).String()
		default:
			return token
		}
	})
}

// httpCall performs an http action; the body is available as {http} afterwards
func (r *flowRun) httpCall(ctx context.Context, a *domain.Action) error {
	method := strings.ToUpper(a.Method)
	if method == "" {
		method = http.MethodGet
	}
	url := r.render(ctx, a.URL)

	var body io.Reader
	if a.Body != "" {
		body = strings.NewReader(r.render(ctx, a.Body))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range a.Headers {
		req.Header.Set(k, r.render(ctx, v))
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.uc.client.Do(req)
	if err != nil {
		return fmt.Errorf("http %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("http %s %s: status %d", method, url, resp.StatusCode)
	}
	if r.vars == nil {
		r.vars = make(map[string]string)
	}
	r.vars["http"] = string(data)
	return nil
}
