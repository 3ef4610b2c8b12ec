package telegram

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"guesser/internal/analytics"
	"guesser/internal/archive"
	"guesser/internal/trainer"
)

// Core is the set of dataset operations the bot exposes as commands.
type Core interface {
	Archive(ctx context.Context, src archive.Source) (int, error)
	RemoveAuthor(ctx context.Context, author string) (int, error)
	Retrain(ctx context.Context) (*trainer.Job, error)
	Predict(ctx context.Context, text string) (string, error)
	Stats() *analytics.Stats
	DatasetPath() string
}

// Journal records observed messages and serves them back for archiving.
type Journal interface {
	Append(ctx context.Context, chatID int64, m archive.Message) error
	Source(chatID int64) archive.Source
}

// sender is the part of the Bot API the handlers use; tests swap it out.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type apiSender struct{ api *tgbotapi.BotAPI }

func (s apiSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return s.api.Send(c)
}

type Bot struct {
	api     *tgbotapi.BotAPI
	s       sender
	core    Core
	journal Journal

	workingChatID int64
	isOperator    func(userID int64) bool

	wg sync.WaitGroup
}

func New(botToken string, core Core, journal Journal, workingChatID int64, isOperator func(int64) bool) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	slog.Info("telegram: authorized", "account", api.Self.UserName)
	return &Bot{
		api:           api,
		s:             apiSender{api: api},
		core:          core,
		journal:       journal,
		workingChatID: workingChatID,
		isOperator:    isOperator,
	}, nil
}

// Start polls for updates until ctx is done. Every update is handled on its
// own goroutine so a long archive or retrain never stalls the update loop.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	slog.Info("telegram: ready, receiving updates")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return
			}
			b.wg.Add(1)
			go func(update tgbotapi.Update) {
				defer b.wg.Done()
				b.handleUpdate(ctx, update)
			}(update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		if update.Message.IsCommand() {
			b.handleCommand(ctx, update.Message)
			return
		}
		b.handleIncomingMessage(ctx, update.Message)
	case update.EditedMessage != nil:
		b.record(ctx, update.EditedMessage)
	}
}

func (b *Bot) sendMessage(chatID int64, text string) tgbotapi.Message {
	msg := tgbotapi.NewMessage(chatID, text)
	sent, err := b.s.Send(msg)
	if err != nil {
		slog.Error("telegram: failed to send message", "chat", chatID, "err", err)
	}
	return sent
}

func (b *Bot) reply(to *tgbotapi.Message, text string) {
	msg := tgbotapi.NewMessage(to.Chat.ID, text)
	msg.ReplyToMessageID = to.MessageID
	if _, err := b.s.Send(msg); err != nil {
		slog.Error("telegram: failed to send reply", "chat", to.Chat.ID, "err", err)
	}
}

// sendDocument uploads the file at path as a reply to to.
func (b *Bot) sendDocument(to *tgbotapi.Message, path, caption string) {
	doc := tgbotapi.NewDocument(to.Chat.ID, tgbotapi.FilePath(path))
	doc.Caption = caption
	doc.ReplyToMessageID = to.MessageID
	if _, err := b.s.Send(doc); err != nil {
		slog.Error("telegram: failed to send document", "chat", to.Chat.ID, "path", path, "err", err)
	}
}

// editMessage replaces the text of a previously sent message, falling back
// to a new message when there is nothing to edit.
func (b *Bot) editMessage(chatID int64, messageID int, text string) {
	if messageID == 0 {
		b.sendMessage(chatID, text)
		return
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if _, err := b.s.Send(edit); err != nil {
		slog.Error("telegram: failed to edit message", "chat", chatID, "err", err)
	}
}

// authorName is the display name stored as a record's author: the @username
// when set, otherwise first and last name. It is not a stable identity.
func authorName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func messageText(m *tgbotapi.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

func chatName(c *tgbotapi.Chat) string {
	if c == nil {
		return ""
	}
	if c.Title != "" {
		return c.Title
	}
	return c.UserName
}
