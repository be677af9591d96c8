package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// handleMessage processes a single message
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage", zap.Any("panic", r))
			b.reply(message.Chat.ID, "An error occurred while processing your request. Please try again.")
		}
	}()

	userID := message.From.ID

	// Any command cancels an ongoing conversation
	if state := b.state(userID); state != nil {
		if !message.IsCommand() {
			b.handleConversation(ctx, message, state)
			return
		}
		b.clearState(userID)
	}

	if !message.IsCommand() {
		return
	}

	args := strings.Fields(message.CommandArguments())
	switch message.Command() {
	case "start", "help":
		b.handleStart(message)
	case "books":
		b.handleBooks(ctx, message)
	case "add_book":
		b.startConversation(message, "add_book", "Please enter the book title:")
	case "add_reader":
		b.startConversation(message, "add_reader", "Please enter the reader's name:")
	case "borrow":
		b.handleBorrow(ctx, message, args)
	case "return":
		b.handleReturn(ctx, message, args)
	case "loans":
		b.handleLoans(ctx, message, args)
	case "overdue":
		b.handleOverdue(ctx, message)
	case "top_books":
		b.handleTopBooks(ctx, message, args)
	case "top_readers":
		b.handleTopReaders(ctx, message, args)
	default:
		b.reply(message.Chat.ID, "Unknown command. Use /start to see available commands.")
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery", zap.Any("panic", r))
		}
	}()

	// Answer the callback query to remove loading state
	b.request(tgbotapi.NewCallback(query.ID, ""))

	if query.Message == nil {
		return
	}

	switch {
	case strings.HasPrefix(query.Data, returnPrefix):
		b.handleReturnCallback(ctx, query)
	default:
		b.logger.Debug("Ignoring unknown callback", zap.String("data", query.Data))
	}
}

func (b *Bot) state(userID int64) *ConversationState {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	return b.states[userID]
}

func (b *Bot) setState(userID int64, state *ConversationState) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	b.states[userID] = state
}

func (b *Bot) clearState(userID int64) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	delete(b.states, userID)
}
