package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"circulation/internal/circulation"
)

const dateLayout = "2006-01-02"

// reply sends a plain text message to a chat
func (b *Bot) reply(chatID int64, text string) {
	b.sendMessage(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) sendMessage(msg tgbotapi.MessageConfig) {
	if b.out == nil {
		return
	}
	if _, err := b.out.Send(msg); err != nil {
		b.logger.Warn("Failed to send message", zap.Error(err), zap.Int64("chat_id", msg.ChatID))
	}
}

func (b *Bot) request(c tgbotapi.Chattable) {
	if b.out == nil {
		return
	}
	if _, err := b.out.Request(c); err != nil {
		b.logger.Warn("Telegram request failed", zap.Error(err))
	}
}

// replyError turns a circulation error into a short user-facing message
func (b *Bot) replyError(chatID int64, action string, err error) {
	var text string
	switch {
	case errors.Is(err, circulation.ErrOutOfStock):
		text = "No copies of this book are available right now."
	case errors.Is(err, circulation.ErrAlreadyReturned):
		text = "This loan was already returned."
	case errors.Is(err, circulation.ErrReaderInactive):
		text = "This reader is not active and cannot borrow books."
	case errors.Is(err, circulation.ErrNotFound), errors.Is(err, circulation.ErrInvalidArgument),
		errors.Is(err, circulation.ErrAlreadyExists):
		text = capitalize(err.Error()) + "."
	case errors.Is(err, circulation.ErrUnavailable):
		text = "The library database is unavailable. Please try again later."
	default:
		text = "Something went wrong."
	}
	if !errors.Is(err, circulation.ErrOutOfStock) && !errors.Is(err, circulation.ErrAlreadyReturned) {
		b.logger.Warn("Bot command failed",
			zap.String("action", action),
			zap.String("code", circulation.CodeOf(err)),
			zap.Error(err),
		)
	}
	b.reply(chatID, fmt.Sprintf("Failed to %s. %s", action, text))
}

func parseID(s, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be an ID", circulation.ErrInvalidArgument, what)
	}
	return id, nil
}

// parseCount parses an optional positive count argument
func parseCount(args []string, idx, def int) (int, error) {
	if len(args) <= idx {
		return def, nil
	}
	n, err := strconv.Atoi(args[idx])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q is not a positive number", circulation.ErrInvalidArgument, args[idx])
	}
	return n, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// shortID returns the first block of an ID for compact button labels
func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
