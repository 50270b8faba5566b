// Package telegram runs the relay on a Telegram bot: users talk to the bot in
// private chats, agents work in forum topics of one support supergroup.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/action"
	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/service"
)

// API is the subset of *tgbotapi.BotAPI the client needs. Forum topics and
// message_thread_id are newer than the library's typed configs, so every call
// goes through raw requests.
type API interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// Client is the Telegram implementation of service.Transport.
type Client struct {
	api             API
	supportChatID   int64
	reviewsThreadID int64
	logger          *zap.Logger
}

// NewClient builds a client posting into supportChatID.
func NewClient(api API, supportChatID, reviewsThreadID int64, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, supportChatID: supportChatID, reviewsThreadID: reviewsThreadID, logger: logger}
}

var _ service.Transport = (*Client)(nil)

func (c *Client) AnnounceTicket(ctx context.Context, ticket domain.Ticket) (string, error) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Take", action.Take{DisplayID: ticket.DisplayID}.Encode()),
	))
	msg, err := c.sendText(c.supportChatID, 0, announceText(ticket), &keyboard)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.MessageID), nil
}

func (c *Client) SendToUser(ctx context.Context, userID string, content domain.Content) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("user id %q is not a chat id: %w", userID, err)
	}
	return c.sendContent(chatID, 0, content)
}

func (c *Client) SendToThread(ctx context.Context, threadRef string, content domain.Content) error {
	threadID, err := parseRef(threadRef)
	if err != nil {
		return err
	}
	return c.sendContent(c.supportChatID, threadID, content)
}

func (c *Client) CreateThread(ctx context.Context, ticket domain.Ticket) (string, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", c.supportChatID)
	params.AddNonEmpty("name", topicName(ticket))
	var topic struct {
		MessageThreadID int `json:"message_thread_id"`
	}
	if err := c.call("createForumTopic", params, &topic); err != nil {
		return "", err
	}
	if topic.MessageThreadID == 0 {
		return "", fmt.Errorf("createForumTopic returned no thread id")
	}
	return strconv.Itoa(topic.MessageThreadID), nil
}

func (c *Client) CloseThread(ctx context.Context, threadRef string) error {
	params, err := c.topicParams(threadRef)
	if err != nil {
		return err
	}
	return c.call("closeForumTopic", params, nil)
}

func (c *Client) RenameThread(ctx context.Context, threadRef, title string) error {
	params, err := c.topicParams(threadRef)
	if err != nil {
		return err
	}
	params.AddNonEmpty("name", title)
	return c.call("editForumTopic", params, nil)
}

func (c *Client) RequestRating(ctx context.Context, ticket domain.Ticket) error {
	chatID, err := strconv.ParseInt(ticket.UserID, 10, 64)
	if err != nil {
		return fmt.Errorf("user id %q is not a chat id: %w", ticket.UserID, err)
	}
	keyboard := ratingKeyboard(ticket.DisplayID)
	_, err = c.sendText(chatID, 0, fmt.Sprintf("How would you rate the support on ticket #%d?", ticket.DisplayID), &keyboard)
	return err
}

func (c *Client) PublishReview(ctx context.Context, ticket domain.Ticket, rating domain.Rating) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Review for ticket #%d\nUser: %s\nRating: %s", ticket.DisplayID, ticket.DisplayName(), strings.Repeat("★", rating.Rating))
	if ticket.AssignedAgentID != nil {
		fmt.Fprintf(&b, "\nAgent: %s", *ticket.AssignedAgentID)
	}
	if rating.Comment != nil && *rating.Comment != "" {
		fmt.Fprintf(&b, "\nComment: %s", *rating.Comment)
	}
	_, err := c.sendText(c.supportChatID, int(c.reviewsThreadID), b.String(), nil)
	return err
}

// PostControls puts the close and rename buttons into a ticket thread.
func (c *Client) PostControls(threadRef string, displayID int64) error {
	threadID, err := parseRef(threadRef)
	if err != nil {
		return err
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Close ticket", action.Close{DisplayID: displayID}.Encode()),
		tgbotapi.NewInlineKeyboardButtonData("Rename", action.Rename{DisplayID: displayID}.Encode()),
	))
	_, err = c.sendText(c.supportChatID, threadID, "Ticket controls", &keyboard)
	return err
}

// Reply sends plain text, optionally with a keyboard, to a chat or topic.
func (c *Client) Reply(chatID int64, threadID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	_, err := c.sendText(chatID, threadID, text, keyboard)
	return err
}

// AnswerCallback acknowledges a button press; text is shown as a toast.
func (c *Client) AnswerCallback(callbackID, text string) error {
	params := tgbotapi.Params{}
	params.AddNonEmpty("callback_query_id", callbackID)
	params.AddNonEmpty("text", text)
	return c.call("answerCallbackQuery", params, nil)
}

// IsSupportAdmin reports whether the account administers the support chat.
func (c *Client) IsSupportAdmin(userID int64) (bool, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", c.supportChatID)
	params.AddNonZero64("user_id", userID)
	var member tgbotapi.ChatMember
	if err := c.call("getChatMember", params, &member); err != nil {
		return false, err
	}
	return member.IsAdministrator() || member.IsCreator(), nil
}

// GetUpdates long-polls for inbound updates after offset.
func (c *Client) GetUpdates(offset, timeoutSeconds int) ([]Update, error) {
	params := tgbotapi.Params{}
	params.AddNonZero("offset", offset)
	params.AddNonZero("timeout", timeoutSeconds)
	if err := params.AddInterface("allowed_updates", []string{"message", "callback_query"}); err != nil {
		return nil, err
	}
	resp, err := c.api.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, err
	}
	return decodeUpdates(resp.Result)
}

func (c *Client) sendContent(chatID int64, threadID int, content domain.Content) error {
	if content.Media == nil {
		_, err := c.sendText(chatID, threadID, content.Text, nil)
		return err
	}
	media := content.Media
	if media.SourceChatID != 0 && media.SourceMessageID != 0 {
		params := tgbotapi.Params{}
		params.AddNonZero64("chat_id", chatID)
		params.AddNonZero("message_thread_id", threadID)
		params.AddNonZero64("from_chat_id", media.SourceChatID)
		params.AddNonZero("message_id", media.SourceMessageID)
		return c.call("copyMessage", params, nil)
	}

	endpoint, field := "sendDocument", "document"
	switch media.Kind {
	case domain.MediaPhoto:
		endpoint, field = "sendPhoto", "photo"
	case domain.MediaVideo:
		endpoint, field = "sendVideo", "video"
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_thread_id", threadID)
	params.AddNonEmpty(field, media.URL)
	caption := media.Caption
	if caption == "" {
		caption = content.Text
	}
	params.AddNonEmpty("caption", caption)
	return c.call(endpoint, params, nil)
}

func (c *Client) sendText(chatID int64, threadID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_thread_id", threadID)
	params.AddNonEmpty("text", text)
	if keyboard != nil {
		if err := params.AddInterface("reply_markup", keyboard); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	var msg tgbotapi.Message
	err := c.call("sendMessage", params, &msg)
	return msg, err
}

func (c *Client) topicParams(threadRef string) (tgbotapi.Params, error) {
	threadID, err := parseRef(threadRef)
	if err != nil {
		return nil, err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", c.supportChatID)
	params.AddNonZero("message_thread_id", threadID)
	return params, nil
}

func (c *Client) call(endpoint string, params tgbotapi.Params, out any) error {
	resp, err := c.api.MakeRequest(endpoint, params)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", endpoint, err)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", endpoint, err)
	}
	return nil
}

func parseRef(ref string) (int, error) {
	id, err := strconv.Atoi(ref)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid telegram ref %q", ref)
	}
	return id, nil
}

func ratingKeyboard(displayID int64) tgbotapi.InlineKeyboardMarkup {
	stars := make([]tgbotapi.InlineKeyboardButton, 0, domain.MaxRating)
	for score := domain.MinRating; score <= domain.MaxRating; score++ {
		stars = append(stars, tgbotapi.NewInlineKeyboardButtonData(
			strconv.Itoa(score)+" ★", action.Rate{DisplayID: displayID, Score: score}.Encode()))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(stars...),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Add a comment", action.RateComment{DisplayID: displayID}.Encode())),
	)
}

func announceText(t domain.Ticket) string {
	return fmt.Sprintf("New ticket #%d\n\nUser: %s (id %s)\nCategory: %s\n\n%s", t.DisplayID, t.DisplayName(), t.UserID, t.Category, t.InitialMessage)
}

func topicName(t domain.Ticket) string {
	return fmt.Sprintf("#%s (Telegram)", t.DisplayName())
}
