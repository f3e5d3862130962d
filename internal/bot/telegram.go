package bot

import (
	"context"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bowerhall/meshtale/internal/engine"
	"github.com/bowerhall/meshtale/internal/logger"
	"github.com/bowerhall/meshtale/internal/session"
	"github.com/bowerhall/meshtale/internal/story"
)

const telegramWelcome = "Welcome to MeshTale! Choose-your-own-adventure stories " +
	"from the mesh, now in your chat.\n" +
	"/play [theme] - start an adventure\n" +
	"/themes - list themes\n" +
	"/help - how to play"

type telegram struct {
	api    *tgbotapi.BotAPI
	engine *engine.Engine

	mu    sync.Mutex
	chats map[int64]struct{}
}

func newTelegram(token string, eng *engine.Engine) (Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	return &telegram{api: api, engine: eng, chats: make(map[int64]struct{})}, nil
}

func (t *telegram) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.api.GetUpdatesChan(u)

	logger.Info("telegram bot online", "username", t.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}

			go t.handleMessage(ctx, update.Message)
		}
	}
}

func (t *telegram) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	t.remember(msg.Chat.ID)

	key := session.TelegramKey(msg.Chat.ID)
	sender := "telegram"
	if msg.From != nil && msg.From.UserName != "" {
		sender = msg.From.UserName
	}

	var text string
	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			t.send(msg.Chat.ID, telegramWelcome, msg.MessageID)
			return
		case "themes":
			t.send(msg.Chat.ID, "Themes: "+strings.Join(story.Themes(), ", "), msg.MessageID)
			return
		case "play":
			text = strings.TrimSpace("!adv " + msg.CommandArguments())
		case "status":
			text = "!status"
		case "quit":
			text = "!quit"
		case "help":
			text = "!help"
		default:
			t.send(msg.Chat.ID, "Unknown command. Try /help.", msg.MessageID)
			return
		}
	} else {
		text = msg.Text
	}

	logger.Info("message received", "session", key, "from", sender, "text", truncate(text, 50))

	reply, err := t.engine.HandleDirect(ctx, key, sender, text)
	response := reply.Text
	if err != nil && response == "" {
		logger.Error("engine failed", "error", err)
		response = "Something went wrong."
	}

	t.send(msg.Chat.ID, response, msg.MessageID)
}

func (t *telegram) send(chatID int64, text string, replyTo int) {
	reply := tgbotapi.NewMessage(chatID, text)
	reply.ReplyToMessageID = replyTo

	if _, err := t.api.Send(reply); err != nil {
		logger.Error("send failed", "error", err, "chatID", chatID)
	}
}

// Broadcast delivers a notice to every chat seen since startup.
func (t *telegram) Broadcast(message string) error {
	t.mu.Lock()
	ids := make([]int64, 0, len(t.chats))
	for id := range t.chats {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	var lastErr error
	for _, id := range ids {
		if _, err := t.api.Send(tgbotapi.NewMessage(id, message)); err != nil {
			logger.Error("telegram broadcast failed", "chatID", id, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

func (t *telegram) remember(chatID int64) {
	t.mu.Lock()
	t.chats[chatID] = struct{}{}
	t.mu.Unlock()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	return s[:max] + "..."
}
