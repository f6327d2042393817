// Package telegram forwards chat messages to the orchestrator and sends the
// merged output back.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
)

const helpText = `Send any request and the right agents will handle it.

Address one agent directly with @role, for example "@research latest Go release notes".
Ask "everyone" or "@all" to hear from every agent.
Chain steps with "then", for example "research X then summarize it as a note".`

// Submitter runs a request to completion.
type Submitter interface {
	Submit(ctx context.Context, req agent.Request) (*agent.RunResult, error)
}

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	submit  Submitter
	cfg     config.TelegramConfig
	cancel  context.CancelFunc
}

func NewBot(cfg config.TelegramConfig, submit Submitter) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Bot{bot: bot, submit: submit, cfg: cfg}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		go b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) allowed(userID int64) bool {
	return len(b.cfg.AllowFrom) == 0 || slices.Contains(b.cfg.AllowFrom, userID)
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if !b.allowed(userID) {
		slog.Warn("unauthorized telegram user", "user_id", userID, "chat_id", chatID)
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	// Send thinking indicator
	_ = b.sendChatAction(ctx, chatID, "typing")

	out := b.respond(ctx, chatID, userID, text)
	if err := b.SendMessage(ctx, chatID, out); err != nil {
		slog.Error("failed to send telegram message", "chat", chatID, "error", err)
	}
}

// respond turns one incoming message into the reply text.
func (b *Bot) respond(ctx context.Context, chatID, userID int64, text string) string {
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	switch cmd {
	case "/start", "/help":
		return helpText
	}

	req := agent.Request{
		Text: text,
		Context: map[string]any{
			agent.ConversationKey: "telegram:" + strconv.FormatInt(chatID, 10),
			agent.SenderKey:       "telegram:" + strconv.FormatInt(userID, 10),
		},
	}
	res, err := b.submit.Submit(ctx, req)
	if err != nil {
		slog.Error("handle message failed", "chat", chatID, "error", err)
		return "Sorry, I encountered an error processing your message."
	}
	if strings.TrimSpace(res.MergedOutput) == "" {
		return "Done."
	}
	return res.MergedOutput
}

// SendMessage sends text as Markdown, falling back to plain text when
// Telegram rejects the markup.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkMessage(text, 4096) {
		msg := tu.Message(tu.ID(chatID), toTelegramMarkdown(chunk)).WithParseMode(telego.ModeMarkdown)
		if _, err := b.bot.SendMessage(ctx, msg); err == nil {
			continue
		}
		if _, err := b.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func (b *Bot) sendChatAction(ctx context.Context, chatID int64, action string) error {
	return b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), action))
}
