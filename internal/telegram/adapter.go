// Package telegram answers data queries sent to a Telegram bot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/databridge/internal/gateway"
	"github.com/user/databridge/internal/render"
	"github.com/user/databridge/internal/state"
	"github.com/user/databridge/internal/types"
)

const (
	maxTelegramMessage = 4096
	pollTimeout        = 30

	msgWelcome = "Hello! Ask me for statistical data, for example \"population of Norway by region\". Send /reset to start over."
	msgReset   = "Conversation reset."
	msgTimeout = "The data service took too long to answer. Please try again."
	msgFailed  = "Sorry, I encountered an error processing your message."
	msgUnknown = "Unknown command. Available: /start, /reset, /status"
)

// Service is the part of the gateway the adapter drives.
type Service interface {
	HandleQuery(ctx context.Context, q gateway.Query) (*gateway.Response, error)
	HandleReset(ctx context.Context, id types.SessionID)
	History(ctx context.Context, id types.SessionID) []state.ConversationTurn
}

// Sender delivers messages. *tgbotapi.BotAPI implements it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot    *tgbotapi.BotAPI
	sender Sender
	svc    Service
	logger *slog.Logger
}

// New creates a Telegram adapter for the bot with the given token.
func New(token string, svc Service, logger *slog.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, svc, logger)
	a.bot = bot
	return a, nil
}

func newAdapter(sender Sender, svc Service, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{sender: sender, svc: svc, logger: logger}
}

// Start long-polls for updates until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout

	updates := a.bot.GetUpdatesChan(u)
	a.logger.Info("telegram adapter started", "bot", a.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
				continue
			}
			go a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	q := gateway.Query{
		UserRequest: msg.Text,
		SessionID:   buildSessionKey(msg.From.ID, chatID),
		UseContext:  true,
	}

	resp, err := a.svc.HandleQuery(ctx, q)
	switch {
	case errors.Is(err, types.ErrTimeout):
		a.sendResponse(chatID, msgTimeout)
	case err != nil:
		a.logger.Error("telegram query failed", "session_id", string(q.SessionID), "error", err)
		a.sendResponse(chatID, msgFailed)
	default:
		a.sendResponse(chatID, render.Markdown(resp))
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := buildSessionKey(msg.From.ID, chatID)

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, msgWelcome)
	case "reset", "new":
		a.svc.HandleReset(ctx, key)
		a.sendResponse(chatID, msgReset)
	case "status":
		turns := a.svc.History(ctx, key)
		status := fmt.Sprintf("Session: %s\nTurns: %d", key, len(turns))
		if n := len(turns); n > 0 {
			status += "\nLast query: " + turns[n-1].Query
		}
		a.sendResponse(chatID, status)
	default:
		a.sendResponse(chatID, msgUnknown)
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.sender.Send(msg); err != nil {
			// Unbalanced markup is rejected; resend as plain text.
			msg.ParseMode = ""
			if _, err := a.sender.Send(msg); err != nil {
				a.logger.Error("telegram send failed", "chat_id", chatID, "error", err)
			}
		}
	}
}

// splitMessage cuts text into chunks Telegram accepts, preferring line
// breaks and never splitting a UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > maxTelegramMessage {
		end := maxTelegramMessage
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		if nl := strings.LastIndexByte(text[:end], '\n'); nl > maxTelegramMessage/2 {
			end = nl + 1
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func buildSessionKey(userID, chatID int64) types.SessionID {
	return types.NewSessionKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}
