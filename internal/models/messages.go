// Package models defines outbound message shapes for the chat platform.
package models

// QuickActionType identifies the kind of action a quick-reply item triggers.
type QuickActionType string

const (
	// QuickActionMessage sends a fixed text message when tapped.
	QuickActionMessage QuickActionType = "message"
	// QuickActionURI opens a link when tapped.
	QuickActionURI QuickActionType = "uri"
)

// MaxQuickReplyItems is the platform limit on quick-reply items per message.
const MaxQuickReplyItems = 13

// QuickAction describes the action behind a quick-reply button.
type QuickAction struct {
	Type  QuickActionType `json:"type"`
	Label string          `json:"label"`
	Text  string          `json:"text,omitempty"`
	URI   string          `json:"uri,omitempty"`
}

// QuickReplyItem is one selectable button attached to a message.
type QuickReplyItem struct {
	Type   string      `json:"type"`
	Action QuickAction `json:"action"`
}

// QuickReply is a bounded list of quick-reply items.
type QuickReply struct {
	Items []QuickReplyItem `json:"items"`
}

// OutboundMessage is a single message payload for reply or push delivery.
type OutboundMessage struct {
	Type       string      `json:"type"`
	Text       string      `json:"text"`
	QuickReply *QuickReply `json:"quickReply,omitempty"`
}

// NewTextMessage builds a plain text outbound message.
func NewTextMessage(text string) OutboundMessage {
	return OutboundMessage{Type: "text", Text: text}
}

// NewQuickReplyMessage builds a text message with attached quick-reply items.
// Items beyond the platform limit are truncated.
func NewQuickReplyMessage(text string, items ...QuickReplyItem) OutboundMessage {
	if len(items) > MaxQuickReplyItems {
		items = items[:MaxQuickReplyItems]
	}
	return OutboundMessage{
		Type:       "text",
		Text:       text,
		QuickReply: &QuickReply{Items: items},
	}
}

// MessageQuickReplyItem builds a quick-reply button that sends text back.
func MessageQuickReplyItem(label, text string) QuickReplyItem {
	return QuickReplyItem{
		Type:   "action",
		Action: QuickAction{Type: QuickActionMessage, Label: label, Text: text},
	}
}

// URIQuickReplyItem builds a quick-reply button that opens a link.
func URIQuickReplyItem(label, uri string) QuickReplyItem {
	return QuickReplyItem{
		Type:   "action",
		Action: QuickAction{Type: QuickActionURI, Label: label, URI: uri},
	}
}

// FilterQuickReplyItems removes items with action types the target platform
// does not support. A message whose quick reply ends up empty is sent as
// plain text.
func FilterQuickReplyItems(msg OutboundMessage, supported ...QuickActionType) OutboundMessage {
	if msg.QuickReply == nil {
		return msg
	}
	allowed := make(map[QuickActionType]bool, len(supported))
	for _, t := range supported {
		allowed[t] = true
	}
	var kept []QuickReplyItem
	for _, item := range msg.QuickReply.Items {
		if allowed[item.Action.Type] {
			kept = append(kept, item)
		}
	}
	if len(kept) == 0 {
		msg.QuickReply = nil
		return msg
	}
	msg.QuickReply = &QuickReply{Items: kept}
	return msg
}
