package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"guesser/internal/archive"
	"guesser/internal/guesser"
	"guesser/internal/storage"
	"guesser/internal/trainer"
)

const (
	helpText = "Commands:\n" +
		"/archive - save this chat's history to train the model\n" +
		"/remove <username> - remove a user from the dataset (or reply to one of their messages)\n" +
		"/retrain - retrain the model\n" +
		"/stats - show dataset statistics\n" +
		"/ping - ping the bot"
	recoveryHint    = "Please try running /retrain. If that fails, please try /archive."
	statsTopAuthors = 10
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	slog.Info("telegram: command received", "command", msg.Command(), "chat", chatName(msg.Chat), "from", authorName(msg.From))

	switch msg.Command() {
	case "archive", "remove", "retrain":
		if msg.From == nil || (b.isOperator != nil && !b.isOperator(msg.From.ID)) {
			b.reply(msg, "You are not allowed to change the dataset.")
			return
		}
	}

	switch msg.Command() {
	case "archive":
		b.handleArchive(ctx, msg)
	case "remove":
		b.handleRemove(ctx, msg)
	case "retrain":
		b.handleRetrain(ctx, msg)
	case "stats":
		b.reply(msg, b.core.Stats().GenerateReportSummary(statsTopAuthors))
	case "ping":
		b.handlePing(msg)
	case "start", "help":
		b.reply(msg, helpText)
	default:
		b.reply(msg, "Unknown command.\n\n"+helpText)
	}
}

func (b *Bot) handleArchive(ctx context.Context, msg *tgbotapi.Message) {
	progress := b.sendMessage(msg.Chat.ID, fmt.Sprintf("Archiving messages from %s...", chatName(msg.Chat)))

	count, err := b.core.Archive(ctx, b.journal.Source(msg.Chat.ID))
	if err != nil {
		slog.Error("telegram: archive failed", "chat", msg.Chat.ID, "err", err)
		b.editMessage(msg.Chat.ID, progress.MessageID, archiveErrorText(err))
		return
	}
	slog.Info("telegram: archived messages", "chat", chatName(msg.Chat), "count", count)
	b.editMessage(msg.Chat.ID, progress.MessageID, fmt.Sprintf("Archived %d messages.", count))
	b.sendDocument(msg, b.core.DatasetPath(), "Messages archived successfully!")
}

// handlePing measures the round trip of sending a message through the Bot
// API; message dates only have second precision.
func (b *Bot) handlePing(msg *tgbotapi.Message) {
	start := time.Now()
	sent := b.sendMessage(msg.Chat.ID, "Pinging...")
	latency := time.Since(start)
	b.editMessage(msg.Chat.ID, sent.MessageID, fmt.Sprintf("Pong! Roundtrip latency: %dms", latency.Milliseconds()))
}

func archiveErrorText(err error) string {
	var fe *archive.FetchError
	var se *storage.StoreError
	switch {
	case errors.As(err, &fe):
		return fmt.Sprintf("There was an error archiving messages after gathering %d of them. Nothing was saved.", fe.Partial)
	case errors.As(err, &se):
		return "The messages were fetched but the dataset could not be saved. Please try /archive again."
	default:
		return "There was an error archiving messages."
	}
}

func (b *Bot) handleRemove(ctx context.Context, msg *tgbotapi.Message) {
	author := strings.TrimPrefix(strings.TrimSpace(msg.CommandArguments()), "@")
	if author == "" && msg.ReplyToMessage != nil {
		author = authorName(msg.ReplyToMessage.From)
	}
	if author == "" {
		b.reply(msg, "Usage: /remove <username>, or reply to a message from the user with /remove.")
		return
	}

	removed, err := b.core.RemoveAuthor(ctx, author)
	if err != nil {
		slog.Error("telegram: remove failed", "author", author, "err", err)
		b.reply(msg, fmt.Sprintf("Could not remove entries for user %q. Please try again.", author))
		return
	}
	if removed == 0 {
		b.reply(msg, fmt.Sprintf("No entries found for user %q.", author))
		return
	}
	b.reply(msg, fmt.Sprintf("Removed %d entries for user %q.\nYou'll need to /retrain the model if you want them to stop being guessed!", removed, author))
}

func (b *Bot) handleRetrain(ctx context.Context, msg *tgbotapi.Message) {
	job, err := b.core.Retrain(ctx)
	if errors.Is(err, guesser.ErrRetrainRunning) {
		b.reply(msg, "A retrain is already running, please wait for it to finish.")
		return
	}
	if err != nil {
		slog.Error("telegram: retrain failed to start", "err", err)
		b.reply(msg, "Could not start retraining.")
		return
	}
	b.reply(msg, "Retraining model...")

	chatID := msg.Chat.ID
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.reportRetrain(ctx, chatID, job)
	}()
}

func (b *Bot) reportRetrain(ctx context.Context, chatID int64, job *trainer.Job) {
	err := job.Wait(ctx)
	var pe *trainer.ProcessError
	switch {
	case err == nil:
		b.sendMessage(chatID, "Done! The model was retrained successfully.")
	case errors.As(err, &pe):
		b.sendMessage(chatID, fmt.Sprintf("Model retrain exited with code %d.\nPlease try /retrain again. If that still fails, please try /archive.", pe.ExitCode))
	default:
		slog.Error("telegram: retrain did not complete", "job", job.ID, "err", err)
		b.sendMessage(chatID, "Model retrain did not complete.")
	}
}

// handleIncomingMessage journals every plain message and, in the working
// chat, replies with who most likely wrote it.
func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	b.record(ctx, msg)

	text := messageText(msg)
	if b.workingChatID == 0 || msg.Chat.ID != b.workingChatID || msg.From == nil || msg.From.IsBot || strings.TrimSpace(text) == "" {
		return
	}
	slog.Info("telegram: received message", "from", authorName(msg.From), "text", text)

	predicted, err := b.core.Predict(ctx, text)
	if err != nil {
		slog.Error("telegram: prediction failed", "err", err)
		b.reply(msg, "Sorry, there was an error making the prediction.\n"+recoveryHint)
		return
	}
	slog.Info("telegram: predicted user", "text", text, "user", predicted)
	b.reply(msg, "The user most likely to have sent this message is: "+predicted)
}

func (b *Bot) record(ctx context.Context, msg *tgbotapi.Message) {
	if b.journal == nil || msg.Chat == nil || msg.IsCommand() {
		return
	}
	m := archive.Message{
		ID:     int64(msg.MessageID),
		Author: authorName(msg.From),
		Text:   messageText(msg),
		SentAt: msg.Time(),
	}
	if msg.From != nil {
		m.AuthorID = msg.From.ID
		m.IsBot = msg.From.IsBot
	}
	if err := b.journal.Append(ctx, msg.Chat.ID, m); err != nil {
		slog.Error("telegram: failed to journal message", "chat", msg.Chat.ID, "message", msg.MessageID, "err", err)
	}
}
