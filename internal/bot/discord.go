package bot

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/bowerhall/meshtale/internal/engine"
	"github.com/bowerhall/meshtale/internal/logger"
	"github.com/bowerhall/meshtale/internal/session"
)

type discord struct {
	session *discordgo.Session
	engine  *engine.Engine
	ctx     context.Context

	mu    sync.Mutex
	chans map[string]struct{}
}

func newDiscord(token string, eng *engine.Engine) (Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	d := &discord{
		session: s,
		engine:  eng,
		chans:   make(map[string]struct{}),
	}

	// Message text is a privileged intent and arrives empty without it.
	s.Identify.Intents = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentMessageContent

	s.AddHandler(d.handleMessage)

	return d, nil
}

func (d *discord) Start(ctx context.Context) error {
	d.ctx = ctx

	if err := d.session.Open(); err != nil {
		return err
	}

	logger.Info("discord bot online")

	<-ctx.Done()
	return d.session.Close()
}

func (d *discord) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}
	if m.Content == "" {
		return
	}

	d.remember(m.ChannelID)

	key := session.DiscordKey(m.ChannelID)
	logger.Info("message received", "session", key, "from", m.Author.Username, "text", truncate(m.Content, 50))

	reply, err := d.engine.HandleDirect(d.ctx, key, m.Author.Username, m.Content)
	response := reply.Text
	if err != nil && response == "" {
		logger.Error("engine failed", "error", err)
		response = "Something went wrong."
	}

	if _, err := s.ChannelMessageSendReply(m.ChannelID, response, m.Reference()); err != nil {
		logger.Error("discord reply failed", "error", err)
	}
}

// Broadcast delivers a notice to every channel seen since startup.
func (d *discord) Broadcast(message string) error {
	d.mu.Lock()
	ids := make([]string, 0, len(d.chans))
	for id := range d.chans {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	var lastErr error
	for _, id := range ids {
		if _, err := d.session.ChannelMessageSend(id, message); err != nil {
			logger.Error("discord broadcast failed", "channelID", id, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

func (d *discord) remember(channelID string) {
	d.mu.Lock()
	d.chans[channelID] = struct{}{}
	d.mu.Unlock()
}
