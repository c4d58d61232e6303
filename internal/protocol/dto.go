// ABOUTME: Transport representations of messages and groups
// ABOUTME: Message content is also rendered from markdown to HTML with goldmark

package protocol

import (
	"bytes"
	"html"
	"time"

	"github.com/samber/lo"
	"github.com/yuin/goldmark"

	"github.com/2389/chathub/internal/store"
)

// MessageDTO is a message as clients see it
type MessageDTO struct {
	ID                string     `json:"id"`
	SenderUsername    string     `json:"sender_username"`
	RecipientUsername string     `json:"recipient_username"`
	Content           string     `json:"content"`
	ContentHTML       string     `json:"content_html"`
	ClientMessageID   string     `json:"client_message_id,omitempty"`
	MessageSent       time.Time  `json:"message_sent"`
	DateRead          *time.Time `json:"date_read"`
}

// MemberDTO is one connection enrolled in a group
type MemberDTO struct {
	ConnectionID string `json:"connection_id"`
	Username     string `json:"username"`
}

// GroupDTO is a conversation group and its members
type GroupDTO struct {
	Name    string      `json:"name"`
	Members []MemberDTO `json:"members"`
}

// NewMessageDTO converts a stored message.
func NewMessageDTO(m *store.Message) MessageDTO {
	return MessageDTO{
		ID:                m.ID,
		SenderUsername:    m.SenderUsername,
		RecipientUsername: m.RecipientUsername,
		Content:           m.Content,
		ContentHTML:       RenderMarkdown(m.Content),
		ClientMessageID:   m.ClientMessageID,
		MessageSent:       m.MessageSent.UTC(),
		DateRead:          utcPtr(m.DateRead),
	}
}

// NewMessageDTOs converts a slice of stored messages. It never returns nil
// so threads encode as [] rather than null.
func NewMessageDTOs(msgs []*store.Message) []MessageDTO {
	if len(msgs) == 0 {
		return []MessageDTO{}
	}
	return lo.Map(msgs, func(m *store.Message, _ int) MessageDTO {
		return NewMessageDTO(m)
	})
}

// NewGroupDTO converts a stored group.
func NewGroupDTO(g *store.Group) GroupDTO {
	members := lo.Map(g.Connections, func(c store.Connection, _ int) MemberDTO {
		return MemberDTO{ConnectionID: c.ConnectionID, Username: c.Username}
	})
	return GroupDTO{Name: g.Name, Members: members}
}

// RenderMarkdown converts message markdown to HTML. Raw HTML in the input
// is omitted by goldmark's default renderer. On failure the escaped text is
// returned in a paragraph.
func RenderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(content), &buf); err != nil {
		return "<p>" + html.EscapeString(content) + "</p>"
	}
	return buf.String()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
