package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// handleReturnCallback processes a return button from the /loans list
func (b *Bot) handleReturnCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	chatID := query.Message.Chat.ID
	loanID, err := parseID(strings.TrimPrefix(query.Data, returnPrefix), "loan")
	if err != nil {
		b.logger.Warn("Malformed return callback",
			zap.String("data", query.Data),
			zap.Int64("user_id", query.From.ID),
		)
		return
	}
	b.returnLoan(ctx, chatID, loanID)
}
