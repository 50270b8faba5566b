package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/action"
	"github.com/spec-kit/support-relay/internal/domain"
	"github.com/spec-kit/support-relay/internal/service"
	apperrors "github.com/spec-kit/support-relay/pkg/util"
)

// Category is a ticket topic users pick from when opening a ticket.
type Category struct {
	Code  string
	Label string
}

// Categories offered by /start.
var Categories = []Category{
	{Code: "tech", Label: "Technical help"},
	{Code: "pay", Label: "Payments"},
	{Code: "key", Label: "Get a key"},
	{Code: "hwid", Label: "Reset HWID"},
}

const otherCategory = "Other"

// AgentResolver maps Telegram accounts to agent ids.
type AgentResolver interface {
	AgentIDForChatUser(ctx context.Context, chatUserID int64) string
}

// Bot handles inbound Telegram updates.
type Bot struct {
	client        *Client
	router        *service.Router
	tickets       *service.TicketService
	ratings       *service.RatingService
	agents        AgentResolver
	supportChatID int64
	pollTimeout   time.Duration
	logger        *zap.Logger
	offset        int
}

// BotDependencies bundles collaborators of the bot.
type BotDependencies struct {
	Client        *Client
	Router        *service.Router
	Tickets       *service.TicketService
	Ratings       *service.RatingService
	Agents        AgentResolver
	SupportChatID int64
	PollTimeout   time.Duration
	Logger        *zap.Logger
}

// NewBot builds the update handler.
func NewBot(deps BotDependencies) *Bot {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		client:        deps.Client,
		router:        deps.Router,
		tickets:       deps.Tickets,
		ratings:       deps.Ratings,
		agents:        deps.Agents,
		supportChatID: deps.SupportChatID,
		pollTimeout:   deps.PollTimeout,
		logger:        logger,
	}
}

// Run polls for updates until ctx is cancelled. Each update is handled in its
// own goroutine. A polling error is returned so the caller can back off.
func (b *Bot) Run(ctx context.Context) error {
	timeout := int(b.pollTimeout / time.Second)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		updates, err := b.client.GetUpdates(b.offset, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("get updates: %w", err)
		}
		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			go b.Handle(ctx, u)
		}
	}
}

// Handle processes one update.
func (b *Bot) Handle(ctx context.Context, u Update) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("update handler panicked", zap.Int("update_id", u.UpdateID), zap.Any("panic", rec))
		}
	}()
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.Chat != nil && u.Message.From != nil:
		if u.Message.Chat.ID == b.supportChatID {
			b.handleSupportMessage(ctx, u.Message, u.ThreadID)
		} else if u.Message.Chat.IsPrivate() {
			b.handlePrivateMessage(ctx, u.Message)
		}
	}
}

func (b *Bot) handlePrivateMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := strconv.FormatInt(msg.From.ID, 10)
	switch msg.Command() {
	case "start":
		b.sendCategories(msg.Chat.ID)
		return
	case "skip":
		if err := b.router.SkipUserPrompt(ctx, userID); err != nil {
			b.logger.Warn("skip prompt failed", zap.String("user_id", userID), zap.Error(err))
		}
		b.reply(msg.Chat.ID, 0, "Okay, skipped.")
		return
	}

	content := contentOf(msg)
	if content.IsEmpty() {
		return
	}
	result, err := b.router.HandleUserMessage(ctx, userID, content)
	switch {
	case apperrors.HasCode(err, apperrors.CodeNoActiveTicket):
		b.sendCategories(msg.Chat.ID)
	case err != nil:
		b.reply(msg.Chat.ID, 0, userMessage(err))
	case result.Disposition == service.DispositionConsumed:
		b.reply(msg.Chat.ID, 0, "Thank you for the feedback!")
	case result.Disposition == service.DispositionForwarded && !result.Delivered:
		b.reply(msg.Chat.ID, 0, "Your message is saved but could not reach the agent yet.")
	}
}

func (b *Bot) handleSupportMessage(ctx context.Context, msg *tgbotapi.Message, threadID int) {
	if msg.From.IsBot {
		return
	}
	ref := ""
	switch {
	case threadID != 0:
		ref = strconv.Itoa(threadID)
	case msg.ReplyToMessage != nil:
		ref = strconv.Itoa(msg.ReplyToMessage.MessageID)
	default:
		return
	}
	if !b.isAdmin(msg.From.ID) {
		return
	}
	content := contentOf(msg)
	if content.IsEmpty() {
		return
	}
	agentID := b.agents.AgentIDForChatUser(ctx, msg.From.ID)
	result, err := b.router.HandleAgentMessage(ctx, agentID, ref, content)
	switch {
	case err != nil:
		b.reply(b.supportChatID, threadID, userMessage(err))
	case result.Disposition == service.DispositionConsumed:
		b.reply(b.supportChatID, threadID, "Topic renamed.")
	case result.Disposition == service.DispositionForwarded && !result.Delivered:
		b.reply(b.supportChatID, threadID, "Could not deliver the message to the user.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil {
		return
	}
	act, err := action.Parse(cb.Data)
	if err != nil {
		b.logger.Debug("unknown callback", zap.String("data", cb.Data))
		b.answer(cb.ID, "")
		return
	}
	chatUserID := cb.From.ID
	userID := strconv.FormatInt(chatUserID, 10)

	var notice string
	switch a := act.(type) {
	case action.ChooseCategory:
		notice, err = b.openTicket(ctx, cb, a)
	case action.Cancel:
		notice, err = b.cancel(ctx, userID, a)
	case action.Take:
		notice, err = b.take(ctx, chatUserID, a)
	case action.Close:
		notice, err = b.closeTicket(ctx, chatUserID, a)
	case action.Rename:
		notice, err = b.armRename(ctx, chatUserID, a)
	case action.Rate:
		notice, err = b.rate(ctx, userID, a)
	case action.RateComment:
		notice, err = b.armComment(ctx, userID, a)
	}
	if err != nil {
		b.logger.Debug("callback rejected", zap.String("data", cb.Data), zap.Int64("from", chatUserID), zap.Error(err))
		notice = userMessage(err)
	}
	b.answer(cb.ID, notice)
}

func (b *Bot) openTicket(ctx context.Context, cb *tgbotapi.CallbackQuery, a action.ChooseCategory) (string, error) {
	if b.isAdmin(cb.From.ID) {
		return "Agents cannot open tickets.", nil
	}
	label := categoryLabel(a.Code)
	ticket, err := b.tickets.CreateTicket(ctx, service.CreateTicketInput{
		UserID:   strconv.FormatInt(cb.From.ID, 10),
		Username: cb.From.UserName,
		Category: label,
		Message:  "New request: " + label,
	})
	if err != nil {
		return "", err
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Cancel", action.Cancel{DisplayID: ticket.DisplayID}.Encode()),
	))
	text := fmt.Sprintf("Ticket #%d (%s) is open. Describe your problem, an agent will answer here.", ticket.DisplayID, label)
	if err := b.client.Reply(cb.From.ID, 0, text, &keyboard); err != nil {
		b.logger.Warn("confirm ticket failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}
	return "", nil
}

func (b *Bot) cancel(ctx context.Context, userID string, a action.Cancel) (string, error) {
	var ticketID int64
	if a.DisplayID == 0 {
		ticket, ok := b.tickets.ActiveTicketForUser(userID)
		if !ok {
			return "", apperrors.NewNoActiveTicket(userID)
		}
		ticketID = ticket.ID
	} else {
		id, err := b.tickets.ResolveDisplayID(ctx, a.DisplayID)
		if err != nil {
			return "", err
		}
		ticketID = id
	}
	if _, err := b.tickets.CancelTicket(ctx, ticketID, domain.UserActor(userID)); err != nil {
		return "", err
	}
	return "Ticket cancelled.", nil
}

func (b *Bot) take(ctx context.Context, chatUserID int64, a action.Take) (string, error) {
	if !b.isAdmin(chatUserID) {
		return "Only support admins can take tickets.", nil
	}
	ticketID, err := b.tickets.ResolveDisplayID(ctx, a.DisplayID)
	if err != nil {
		return "", err
	}
	agentID := b.agents.AgentIDForChatUser(ctx, chatUserID)
	ticket, err := b.tickets.TakeTicket(ctx, ticketID, agentID)
	if err != nil {
		return "", err
	}
	if err := b.client.PostControls(*ticket.ThreadRef, ticket.DisplayID); err != nil {
		b.logger.Warn("post ticket controls failed", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
	}
	return fmt.Sprintf("Ticket #%d is yours.", ticket.DisplayID), nil
}

func (b *Bot) closeTicket(ctx context.Context, chatUserID int64, a action.Close) (string, error) {
	if !b.isAdmin(chatUserID) {
		return "Only support admins can close tickets.", nil
	}
	ticketID, err := b.tickets.ResolveDisplayID(ctx, a.DisplayID)
	if err != nil {
		return "", err
	}
	agentID := b.agents.AgentIDForChatUser(ctx, chatUserID)
	if _, err := b.tickets.CloseTicket(ctx, ticketID, domain.AgentActor(agentID)); err != nil {
		return "", err
	}
	return "Ticket closed.", nil
}

func (b *Bot) armRename(ctx context.Context, chatUserID int64, a action.Rename) (string, error) {
	ticketID, err := b.tickets.ResolveDisplayID(ctx, a.DisplayID)
	if err != nil {
		return "", err
	}
	agentID := b.agents.AgentIDForChatUser(ctx, chatUserID)
	if err := b.router.ArmRename(ctx, ticketID, agentID); err != nil {
		return "", err
	}
	return "Send the new topic title.", nil
}

func (b *Bot) rate(ctx context.Context, userID string, a action.Rate) (string, error) {
	ticketID, err := b.tickets.ResolveDisplayID(ctx, a.DisplayID)
	if err != nil {
		return "", err
	}
	if _, err := b.ratings.Rate(ctx, ticketID, userID, a.Score, nil); err != nil {
		return "", err
	}
	return "Thanks for the rating!", nil
}

func (b *Bot) armComment(ctx context.Context, userID string, a action.RateComment) (string, error) {
	ticketID, err := b.tickets.ResolveDisplayID(ctx, a.DisplayID)
	if err != nil {
		return "", err
	}
	if err := b.router.ArmRatingComment(ctx, ticketID, userID); err != nil {
		return "", err
	}
	chatID, _ := strconv.ParseInt(userID, 10, 64)
	b.reply(chatID, 0, "Send your comment, or /skip.")
	return "", nil
}

func (b *Bot) isAdmin(chatUserID int64) bool {
	ok, err := b.client.IsSupportAdmin(chatUserID)
	if err != nil {
		b.logger.Warn("admin check failed", zap.Int64("user_id", chatUserID), zap.Error(err))
		return false
	}
	return ok
}

func (b *Bot) sendCategories(chatID int64) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(Categories))
	for _, c := range Categories {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(c.Label, action.ChooseCategory{Code: c.Code}.Encode())))
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	if err := b.client.Reply(chatID, 0, "Hello! Choose what you need help with:", &keyboard); err != nil {
		b.logger.Warn("send categories failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) reply(chatID int64, threadID int, text string) {
	if err := b.client.Reply(chatID, threadID, text, nil); err != nil {
		b.logger.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) answer(callbackID, text string) {
	if err := b.client.AnswerCallback(callbackID, text); err != nil {
		b.logger.Debug("answer callback failed", zap.Error(err))
	}
}

func categoryLabel(code string) string {
	for _, c := range Categories {
		if c.Code == code {
			return c.Label
		}
	}
	return otherCategory
}

// userMessage renders an error for a chat reply.
func userMessage(err error) string {
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) && domainErr.Code != apperrors.CodeInternal {
		return domainErr.Message
	}
	return "Something went wrong, please try again later."
}
