package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/databridge/internal/extract"
	"github.com/user/databridge/internal/gateway"
	"github.com/user/databridge/internal/state"
	"github.com/user/databridge/internal/types"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	failMode string
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := c.(tgbotapi.MessageConfig)
	f.sent = append(f.sent, msg)
	if f.failMode != "" && msg.ParseMode == f.failMode {
		return tgbotapi.Message{}, errors.New("can't parse entities")
	}
	return tgbotapi.Message{}, nil
}

type fakeService struct {
	queries []gateway.Query
	resets  []types.SessionID
	turns   []state.ConversationTurn
	err     error
}

func (f *fakeService) HandleQuery(_ context.Context, q gateway.Query) (*gateway.Response, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.Response{
		Success:        true,
		ExtractedData:  extract.ExtractedData{HasData: true, Summary: "Found 2 dataflows"},
		ConversationID: q.SessionID,
	}, nil
}

func (f *fakeService) HandleReset(_ context.Context, id types.SessionID) {
	f.resets = append(f.resets, id)
}

func (f *fakeService) History(context.Context, types.SessionID) []state.ConversationTurn {
	return f.turns
}

func message(text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: 67890},
		From: &tgbotapi.User{ID: 12345},
	}
	if strings.HasPrefix(text, "/") {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}}
	}
	return msg
}

func TestHandleMessageQueries(t *testing.T) {
	sender := &fakeSender{}
	svc := &fakeService{}
	a := newAdapter(sender, svc, nil)

	a.handleMessage(context.Background(), message("population of Norway"))

	if len(svc.queries) != 1 {
		t.Fatalf("expected 1 query, got %d", len(svc.queries))
	}
	q := svc.queries[0]
	if q.SessionID != "telegram:12345:67890" || !q.UseContext || q.UserRequest != "population of Norway" {
		t.Errorf("unexpected query %+v", q)
	}
	if len(sender.sent) != 1 || sender.sent[0].Text != "*Found 2 dataflows*" {
		t.Fatalf("unexpected replies %+v", sender.sent)
	}
	if sender.sent[0].ChatID != 67890 || sender.sent[0].ParseMode != tgbotapi.ModeMarkdown {
		t.Errorf("unexpected reply target %+v", sender.sent[0])
	}
}

func TestHandleMessageErrors(t *testing.T) {
	cases := map[error]string{
		fmt.Errorf("%w: deadline", types.ErrTimeout): msgTimeout,
		errors.New("queue stopped"):                  msgFailed,
	}
	for qerr, want := range cases {
		sender := &fakeSender{}
		a := newAdapter(sender, &fakeService{err: qerr}, nil)
		a.handleMessage(context.Background(), message("x"))
		if len(sender.sent) != 1 || sender.sent[0].Text != want {
			t.Errorf("for %v expected %q, got %+v", qerr, want, sender.sent)
		}
	}
}

func TestCommands(t *testing.T) {
	sender := &fakeSender{}
	svc := &fakeService{turns: []state.ConversationTurn{{Query: "GDP"}}}
	a := newAdapter(sender, svc, nil)

	a.handleMessage(context.Background(), message("/start"))
	a.handleMessage(context.Background(), message("/status"))
	a.handleMessage(context.Background(), message("/reset"))
	a.handleMessage(context.Background(), message("/bogus"))

	if len(svc.queries) != 0 {
		t.Errorf("commands must not reach the gateway as queries: %+v", svc.queries)
	}
	if len(svc.resets) != 1 || svc.resets[0] != "telegram:12345:67890" {
		t.Errorf("unexpected resets %v", svc.resets)
	}
	if len(sender.sent) != 4 {
		t.Fatalf("expected 4 replies, got %d", len(sender.sent))
	}
	if sender.sent[0].Text != msgWelcome {
		t.Errorf("unexpected welcome %q", sender.sent[0].Text)
	}
	if !strings.Contains(sender.sent[1].Text, "Turns: 1") || !strings.Contains(sender.sent[1].Text, "Last query: GDP") {
		t.Errorf("unexpected status %q", sender.sent[1].Text)
	}
	if sender.sent[2].Text != msgReset || sender.sent[3].Text != msgUnknown {
		t.Errorf("unexpected replies %q %q", sender.sent[2].Text, sender.sent[3].Text)
	}
}

func TestSendFallsBackToPlainText(t *testing.T) {
	sender := &fakeSender{failMode: tgbotapi.ModeMarkdown}
	a := newAdapter(sender, &fakeService{}, nil)

	a.sendResponse(1, "*unbalanced")
	if len(sender.sent) != 2 {
		t.Fatalf("expected retry, got %d sends", len(sender.sent))
	}
	if sender.sent[1].ParseMode != "" {
		t.Errorf("expected plain-text retry, got %q", sender.sent[1].ParseMode)
	}
}

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0] != short {
		t.Errorf("expected %q, got %q", short, parts[0])
	}
}

func TestSplitMessageLong(t *testing.T) {
	long := strings.Repeat("a", 5000)
	parts := splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestSplitMessagePrefersLineBreaks(t *testing.T) {
	line := strings.Repeat("b", 99) + "\n"
	text := strings.Repeat(line, 50)
	parts := splitMessage(text)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if !strings.HasSuffix(parts[0], "\n") {
		t.Error("expected first part to end on a line break")
	}
	if strings.Join(parts, "") != text {
		t.Error("split lost text")
	}
}

func TestSplitMessageKeepsRunes(t *testing.T) {
	text := strings.Repeat("é", 3000)
	for _, part := range splitMessage(text) {
		if !utf8.ValidString(part) {
			t.Fatal("split produced invalid UTF-8")
		}
		if len(part) > maxTelegramMessage {
			t.Fatalf("part too long: %d", len(part))
		}
	}
}

func TestBuildSessionKey(t *testing.T) {
	key := buildSessionKey(12345, 67890)
	if string(key) != "telegram:12345:67890" {
		t.Errorf("expected 'telegram:12345:67890', got %q", key)
	}
}
