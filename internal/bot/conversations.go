package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"circulation/internal/circulation"
)

// stepDone marks a finished conversation
const stepDone = -1

// startConversation begins a multi-step command
func (b *Bot) startConversation(message *tgbotapi.Message, command, prompt string) {
	b.setState(message.From.ID, &ConversationState{
		Command: command,
		Step:    1,
		Data:    make(map[string]string),
	})
	b.reply(message.Chat.ID, prompt)
}

// handleConversation processes multi-step conversations
func (b *Bot) handleConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	switch state.Command {
	case "add_book":
		b.handleAddBookConversation(ctx, message, state)
	case "add_reader":
		b.handleAddReaderConversation(ctx, message, state)
	default:
		state.Step = stepDone
	}

	// Clean up completed conversations
	if state.Step == stepDone {
		b.clearState(message.From.ID)
	}
}

// handleAddBookConversation collects title, author, ISBN and copies
func (b *Bot) handleAddBookConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	text := strings.TrimSpace(message.Text)
	chatID := message.Chat.ID

	switch state.Step {
	case 1:
		state.Data["title"] = text
		state.Step = 2
		b.reply(chatID, "Who is the author?")
	case 2:
		state.Data["author"] = text
		state.Step = 3
		b.reply(chatID, "What is the ISBN?")
	case 3:
		state.Data["isbn"] = text
		state.Step = 4
		b.reply(chatID, "How many copies does the library own?")
	case 4:
		copies, err := strconv.Atoi(text)
		if err != nil || copies < 0 {
			b.reply(chatID, "Please enter a whole number of copies, e.g. 3")
			return
		}

		book, err := b.svc.Catalog.AddBook(ctx, circulation.NewBook{
			ISBN:   state.Data["isbn"],
			Title:  state.Data["title"],
			Author: state.Data["author"],
			Copies: copies,
		})
		state.Step = stepDone
		if err != nil {
			b.replyError(chatID, "add the book", err)
			return
		}
		b.reply(chatID, fmt.Sprintf("Book added!\n%s by %s, %d copies\nID: %s",
			book.Title, book.Author, book.TotalCopies, book.ID))
	}
}

// handleAddReaderConversation collects the reader's name and an optional email
func (b *Bot) handleAddReaderConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	text := strings.TrimSpace(message.Text)
	chatID := message.Chat.ID

	switch state.Step {
	case 1:
		state.Data["name"] = text
		state.Step = 2
		b.reply(chatID, "Email address? Send - to skip.")
	case 2:
		email := text
		if email == "-" {
			email = ""
		}

		reader, err := b.svc.Membership.Register(ctx, circulation.NewReader{
			Name:  state.Data["name"],
			Email: email,
		})
		state.Step = stepDone
		if err != nil {
			b.replyError(chatID, "register the reader", err)
			return
		}
		b.reply(chatID, fmt.Sprintf("Reader registered!\n%s\nID: %s", reader.Name, reader.ID))
	}
}
