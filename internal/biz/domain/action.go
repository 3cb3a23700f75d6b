package domain

import (
	"fmt"
	"net/http"
	"strings"
)

// ActionKind is the closed set of things a flow can do
type ActionKind string

const (
	ActionReply    ActionKind = "reply"
	ActionDM       ActionKind = "dm"
	ActionHTTP     ActionKind = "http"
	ActionSetState ActionKind = "set_state"
)

// Action is one typed flow action. Text fields accept template tokens.
type Action struct {
	Kind ActionKind `json:"kind"`

	// reply / dm
	Content   string `json:"content,omitempty"`
	Ephemeral bool   `json:"ephemeral,omitempty"`
	UserID    string `json:"user_id,omitempty"` // dm target, defaults to the triggering user

	// http
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url,omitempty"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// set_state
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
}

// Validate rejects actions outside the closed set or missing required fields
func (a *Action) Validate() error {
	switch a.Kind {
	case ActionReply, ActionDM:
		if strings.TrimSpace(a.Content) == "" {
			return fmt.Errorf("%s action: content is required", a.Kind)
		}
	case ActionHTTP:
		if a.URL == "" {
			return fmt.Errorf("http action: url is required")
		}
		switch strings.ToUpper(a.Method) {
		case "", http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			return fmt.Errorf("http action: unsupported method %q", a.Method)
		}
	case ActionSetState:
		if a.Key == "" {
			return fmt.Errorf("set_state action: key is required")
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}
