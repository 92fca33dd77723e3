package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/davnik/sysslan/internal/engine"
	"github.com/davnik/sysslan/internal/models"
	"github.com/davnik/sysslan/internal/storage"
)

// Bot bridges Telegram updates to the engine and delivers its replies.
type Bot struct {
	api     *tgbotapi.BotAPI
	engine  *engine.Engine
	storage storage.Storage
	logger  *zap.Logger
}

// New connects to Telegram. The engine is attached afterwards with
// SetEngine; the bot is also the engine's Sender, so the two are
// constructed in turn.
func New(token string, store storage.Storage, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:     api,
		storage: store,
		logger:  logger,
	}, nil
}

// SetEngine completes the wiring started by New.
func (b *Bot) SetEngine(eng *engine.Engine) {
	b.engine = eng
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}

		go b.handleMessage(update.Message)
	}

	return nil
}

func (b *Bot) handleMessage(message *tgbotapi.Message) {
	ctx := context.Background()

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	if message.Text == "" {
		return
	}

	incoming := b.toIncoming(message)

	effects, err := b.engine.Process(ctx, incoming)
	if err != nil {
		b.logger.Error("message processing failed",
			zap.Error(err),
			zap.Int64("conversation_id", incoming.ConversationID),
			zap.Int("message_id", incoming.MessageID))
		return
	}

	if effects.Decision != nil && !effects.Decision.Respond {
		b.logger.Debug("staying silent",
			zap.String("reason", string(effects.Decision.Reason)),
			zap.Int64("conversation_id", incoming.ConversationID))
	}
}

// toIncoming maps a Telegram message onto the engine's upstream event.
func (b *Bot) toIncoming(message *tgbotapi.Message) *models.IncomingMessage {
	incoming := &models.IncomingMessage{
		ConversationID:    message.Chat.ID,
		MessageID:         message.MessageID,
		SenderID:          message.From.ID,
		SenderName:        message.From.FirstName,
		Text:              message.Text,
		OriginalTimestamp: time.Unix(int64(message.Date), 0),
		DirectAddress:     b.isDirectAddress(message),
	}

	if message.ReplyToMessage != nil {
		incoming.Reply = &models.ReplyContext{
			IsReply:      true,
			RepliedToBot: message.ReplyToMessage.From != nil && message.ReplyToMessage.From.ID == b.api.Self.ID,
			RepliedText:  message.ReplyToMessage.Text,
		}
	}

	return incoming
}

func (b *Bot) isDirectAddress(message *tgbotapi.Message) bool {
	if strings.Contains(message.Text, "@"+b.api.Self.UserName) {
		return true
	}
	return message.ReplyToMessage != nil &&
		message.ReplyToMessage.From != nil &&
		message.ReplyToMessage.From.ID == b.api.Self.ID
}

// Send implements engine.Sender. Fire-and-forget: failures are reported in
// the result, never as an error, and never retried.
func (b *Bot) Send(ctx context.Context, conversationID int64, replyToMessageID int, text string) models.SendResult {
	msg := tgbotapi.NewMessage(conversationID, text)
	msg.ReplyToMessageID = replyToMessageID

	sent, err := b.api.Send(msg)
	if err != nil {
		return models.SendResult{OK: false, Err: err}
	}

	return models.SendResult{OK: true, MessageID: strconv.Itoa(sent.MessageID)}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "summary":
		b.handleSummary(ctx, message)
	case "mine":
		b.handleMine(ctx, message)
	case "forget":
		b.handleForget(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Hej! I quietly keep track of the household chores and breaks
mentioned in this chat. Most of the time I say nothing; now and then I ask a
short question to make sure I understood.

Use /help to see what I can do.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - What this bot does
/help - Show this help message
/summary - Recent activities in this chat
/mine - Your recent activities
/forget <word> - Remove a learned word

Just write as usual — "did the dishes", "took a nap" — and I'll keep track.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleSummary(ctx context.Context, message *tgbotapi.Message) {
	activities, err := b.storage.GetConversationActivities(ctx, message.Chat.ID, 10)
	if err != nil {
		b.logger.Error("failed to get activities",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendMessage(message.Chat.ID, "Sorry, I couldn't fetch the summary right now.")
		return
	}

	b.sendMessage(message.Chat.ID, formatActivities("Recent activities:", activities))
}

func (b *Bot) handleMine(ctx context.Context, message *tgbotapi.Message) {
	activities, err := b.storage.GetUserActivities(ctx, message.Chat.ID, message.From.ID, 10)
	if err != nil {
		b.logger.Error("failed to get user activities",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID),
			zap.Int64("user_id", message.From.ID))
		b.sendMessage(message.Chat.ID, "Sorry, I couldn't fetch your activities right now.")
		return
	}

	b.sendMessage(message.Chat.ID, formatActivities("Your recent activities:", activities))
}

func (b *Bot) handleForget(ctx context.Context, message *tgbotapi.Message) {
	word := strings.ToLower(strings.TrimSpace(message.CommandArguments()))
	if word == "" {
		b.sendMessage(message.Chat.ID, "Usage: /forget <word>")
		return
	}

	if err := b.storage.DeleteAlias(ctx, message.Chat.ID, word); err != nil {
		b.logger.Error("failed to delete alias",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID),
			zap.String("alias", word))
		b.sendMessage(message.Chat.ID, "Sorry, I couldn't forget that word right now.")
		return
	}

	b.sendMessage(message.Chat.ID, fmt.Sprintf("Okay, I've forgotten %q.", word))
}

func formatActivities(header string, activities []*models.Activity) string {
	if len(activities) == 0 {
		return "Nothing recorded yet."
	}

	var sb strings.Builder
	sb.WriteString(header)
	for _, a := range activities {
		sb.WriteString(fmt.Sprintf("\n• %s — %s (%s, %s)",
			a.UserName, a.Activity, a.Type, a.Timestamp.Format("Mon 15:04")))
	}
	return sb.String()
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
