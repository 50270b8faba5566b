package telegram

import (
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/spec-kit/support-relay/internal/domain"
)

// Update is an inbound update with the forum fields the library drops.
type Update struct {
	tgbotapi.Update
	// ThreadID is the forum topic of Message, zero outside topics.
	ThreadID int
}

type topicFields struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		MessageThreadID int  `json:"message_thread_id"`
		IsTopicMessage  bool `json:"is_topic_message"`
	} `json:"message"`
}

func decodeUpdates(raw json.RawMessage) ([]Update, error) {
	var updates []tgbotapi.Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	var topics []topicFields
	if err := json.Unmarshal(raw, &topics); err != nil {
		return nil, fmt.Errorf("decode topic fields: %w", err)
	}
	out := make([]Update, len(updates))
	for i, u := range updates {
		out[i] = Update{Update: u}
		if i < len(topics) && topics[i].Message != nil && topics[i].Message.IsTopicMessage {
			out[i].ThreadID = topics[i].Message.MessageThreadID
		}
	}
	return out, nil
}

// contentOf extracts what a user or agent message carries.
func contentOf(msg *tgbotapi.Message) domain.Content {
	var kind domain.MediaKind
	switch {
	case len(msg.Photo) > 0:
		kind = domain.MediaPhoto
	case msg.Video != nil:
		kind = domain.MediaVideo
	case msg.Document != nil:
		kind = domain.MediaDocument
	default:
		return domain.Content{Text: msg.Text}
	}
	return domain.Content{Media: &domain.Media{
		Kind:            kind,
		Caption:         msg.Caption,
		SourceChatID:    msg.Chat.ID,
		SourceMessageID: msg.MessageID,
	}}
}
