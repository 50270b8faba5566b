package domain

import "time"

// MessageDirection indicates which side of the conversation wrote a message.
type MessageDirection string

const (
	DirectionUserToAgent MessageDirection = "user_to_agent"
	DirectionAgentToUser MessageDirection = "agent_to_user"
)

// MediaKind enumerates attachments the transport can relay.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// Media references an attachment either by URL or by a message already on the transport.
type Media struct {
	Kind            MediaKind `json:"kind"`
	URL             string    `json:"url,omitempty"`
	Caption         string    `json:"caption,omitempty"`
	SourceChatID    int64     `json:"source_chat_id,omitempty"`
	SourceMessageID int       `json:"source_message_id,omitempty"`
}

// Content is what gets forwarded between the user and the agent.
type Content struct {
	Text  string
	Media *Media
}

// IsEmpty reports whether there is nothing to forward.
func (c Content) IsEmpty() bool {
	return c.Text == "" && c.Media == nil
}

// Summary returns a short text form for logs and message history.
func (c Content) Summary() string {
	if c.Text != "" {
		return c.Text
	}
	if c.Media != nil {
		if c.Media.Caption != "" {
			return "<" + string(c.Media.Kind) + "> " + c.Media.Caption
		}
		return "<" + string(c.Media.Kind) + ">"
	}
	return ""
}

// TicketMessage captures one routed message in a ticket conversation.
type TicketMessage struct {
	ID        int64
	TicketID  int64
	Direction MessageDirection
	AuthorID  string
	Body      string
	Media     *Media
	Delivered bool
	CreatedAt time.Time
}

// Content rebuilds what the message carried.
func (m TicketMessage) Content() Content {
	return Content{Text: m.Body, Media: m.Media}
}
