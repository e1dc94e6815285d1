package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/amayahq/amaya/internal/otel"
	"github.com/amayahq/amaya/internal/persistence"
	"github.com/amayahq/amaya/internal/shared"
)

// maxMessageRunes is Telegram's hard limit per message.
const maxMessageRunes = 4096

// TelegramChannel implements Channel for Telegram long polling, and
// MessageSender-style outbound delivery addressed by internal user id.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	responder  Responder
	store      *persistence.Store
	logger     *slog.Logger
	tel        *otel.Instruments
	bot        *tgbotapi.BotAPI
}

// NewTelegramChannel creates a new Telegram channel. An empty allowedIDs
// list admits everyone; each sender still gets their own internal user id.
func NewTelegramChannel(token string, allowedIDs []int64, responder Responder, store *persistence.Store, logger *slog.Logger, tel *otel.Instruments) *TelegramChannel {
	allowed := make(map[int64]struct{})
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		responder:  responder,
		store:      store,
		logger:     logger,
		tel:        tel,
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

// Start connects to Telegram and long-polls for updates, reconnecting with
// exponential backoff on failure.
func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}

	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)

		// Always clean up the old polling goroutine before reconnecting.
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// pollUpdates returned nil means ctx was cancelled.
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2.5x the long-poll timeout (stall
// detection; the library blocks rather than closing the channel).
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message == nil || update.Message.From == nil {
				continue
			}
			if len(t.allowedIDs) > 0 {
				if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
					t.logger.Warn("telegram access denied",
						"user_id", update.Message.From.ID,
						"user_name", update.Message.From.UserName,
					)
					continue
				}
			}
			t.handleMessage(ctx, update.Message)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}

	ownerID, err := t.store.ResolveUser(ctx, "telegram", strconv.FormatInt(msg.Chat.ID, 10), msg.From.UserName)
	if err != nil {
		t.logger.Error("failed to resolve telegram user", "chat_id", msg.Chat.ID, "error", err)
		t.send(msg.Chat.ID, "Sorry, something went wrong on my side. Please try again.")
		return
	}

	requestID := shared.NewRequestID()
	t.logger.Info("telegram message received",
		"owner_id", ownerID,
		"request_id", requestID,
		"chars", len(content),
	)

	// Show "typing..." while the reply is composed.
	if _, err := t.bot.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		t.logger.Debug("typing action failed", "error", err)
	}

	reply, err := t.responder.Chat(ctx, ownerID, requestID, content)
	if err != nil {
		t.logger.Error("chat failed", "owner_id", ownerID, "request_id", requestID, "error", err)
		t.send(msg.Chat.ID, "Sorry, I could not process that right now.")
		return
	}
	if reply == "" {
		return
	}
	if t.send(msg.Chat.ID, reply) {
		t.tel.AddMessageSent(ctx)
	}
}

// SendText delivers text to the owner's Telegram chat. Returns false when the
// owner has no Telegram mapping or the send fails.
func (t *TelegramChannel) SendText(ctx context.Context, ownerID, text string) bool {
	if t.bot == nil {
		t.logger.Error("telegram send before Start", "owner_id", ownerID)
		return false
	}

	externalID, err := t.store.ExternalIDForUser(ctx, "telegram", ownerID)
	if err != nil {
		t.logger.Error("failed to resolve outbound chat", "owner_id", ownerID, "error", err)
		return false
	}
	if externalID == "" {
		t.logger.Warn("owner has no telegram mapping, message dropped", "owner_id", ownerID)
		return false
	}
	chatID, err := strconv.ParseInt(externalID, 10, 64)
	if err != nil {
		t.logger.Error("corrupt telegram mapping", "owner_id", ownerID, "external_id", externalID)
		return false
	}

	if !t.send(chatID, text) {
		return false
	}
	t.tel.AddMessageSent(ctx)
	return true
}

// send delivers text to a chat, splitting messages over Telegram's limit.
func (t *TelegramChannel) send(chatID int64, text string) bool {
	for _, part := range splitMessage(text, maxMessageRunes) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			t.logger.Error("failed to send telegram message", "chat_id", chatID, "error", err)
			return false
		}
	}
	return true
}

// splitMessage cuts text into chunks of at most limit runes, preferring to
// break at a newline and falling back to a hard cut.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
