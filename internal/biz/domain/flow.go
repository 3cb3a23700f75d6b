package domain

import (
	"strings"
	"time"
	"unicode"
)

// NodeType is the kind of a flow node
type NodeType string

const (
	NodeTrigger NodeType = "trigger"
	NodeAction  NodeType = "action"
	NodeCode    NodeType = "code"
)

// NodeData is the typed payload of a node
type NodeData struct {
	// Trigger fields
	Event       EventType `json:"event,omitempty"`
	Command     string    `json:"command,omitempty"`
	Description string    `json:"description,omitempty"`
	Filter      string    `json:"filter,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`

	// Action node
	Action *Action `json:"action,omitempty"`

	// Code node: an ordered list of restricted steps
	Script []Action `json:"script,omitempty"`
}

// Node is a vertex of a flow graph
type Node struct {
	ID    string   `json:"id"`
	Type  NodeType `json:"type"`
	Label string   `json:"label"`
	Data  NodeData `json:"data"`
}

// Edge connects two nodes
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// FlowGraph is a published automation owned by a tenant
type FlowGraph struct {
	ID          string
	TenantID    string
	Name        string
	TriggerType EventType
	Nodes       []Node
	Edges       []Edge
	Published   bool
	UpdatedAt   time.Time
}

// Triggers returns the trigger nodes in declaration order
func (g *FlowGraph) Triggers() []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Type == NodeTrigger {
			out = append(out, n)
		}
	}
	return out
}

// Node finds a node by id
func (g *FlowGraph) Node(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// Successors returns the direct targets of a node, in edge order
func (g *FlowGraph) Successors(nodeID string) []Node {
	var out []Node
	for _, e := range g.Edges {
		if e.Source != nodeID {
			continue
		}
		if n := g.Node(e.Target); n != nil {
			out = append(out, *n)
		}
	}
	return out
}

// NormalizeCommandName lowercases a command name and strips non-alphanumerics
func NormalizeCommandName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FilterMode is how a message filter compares text
type FilterMode string

const (
	FilterAny        FilterMode = "any"
	FilterStartsWith FilterMode = "starts_with"
	FilterExact      FilterMode = "exact"
	FilterContains   FilterMode = "contains"
)

// MessageFilter is a parsed message trigger filter
type MessageFilter struct {
	Mode FilterMode
	Text string
}

// ParseMessageFilter parses the filter syntax used by message triggers:
// "starts with X", "equals X", "contains X" or bare text (substring).
func ParseMessageFilter(raw string) MessageFilter {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return MessageFilter{Mode: FilterAny}
	}
	lower := strings.ToLower(raw)
	prefixes := []struct {
		word string
		mode FilterMode
	}{
		{"starts with ", FilterStartsWith},
		{"equals ", FilterExact},
		{"contains ", FilterContains},
	}
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p.word) {
			return MessageFilter{Mode: p.mode, Text: strings.TrimSpace(raw[len(p.word):])}
		}
	}
	return MessageFilter{Mode: FilterContains, Text: raw}
}

// Match compares content case-insensitively
func (f MessageFilter) Match(content string) bool {
	c := strings.ToLower(strings.TrimSpace(content))
	t := strings.ToLower(f.Text)
	switch f.Mode {
	case FilterAny:
		return true
	case FilterStartsWith:
		return strings.HasPrefix(c, t)
	case FilterExact:
		return c == t
	default:
		return strings.Contains(c, t)
	}
}

// MatchesEvent reports whether a trigger node fires for the event
func (n *Node) MatchesEvent(ev *Event) bool {
	if n.Type != NodeTrigger || n.Data.Event != ev.Type {
		return false
	}
	switch ev.Type {
	case EventInteraction:
		return NormalizeCommandName(n.Data.Command) == NormalizeCommandName(ev.Command)
	case EventComponent:
		return n.Data.CustomID == "" || n.Data.CustomID == ev.CustomID
	case EventMessage:
		if ev.FromBot {
			return false
		}
		return ParseMessageFilter(n.Data.Filter).Match(ev.Content)
	default:
		return true
	}
}

// CommandSpec is a command registration derived from an interaction trigger
type CommandSpec struct {
	Name        string
	Description string
}
