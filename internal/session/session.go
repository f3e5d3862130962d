// Package session owns the durable adventure sessions: the model, the
// SQLite store behind it and the per-key lock registry that serializes
// message handling for one session while others proceed in parallel.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/bowerhall/meshtale/internal/story"
)

const (
	StateIdle           = "IDLE"
	StateStoryActive    = "STORY_ACTIVE"
	StateAwaitingChoice = "AWAITING_CHOICE"
	StateEnded          = "ENDED"
)

// States lists every session state in lifecycle order.
func States() []string {
	return []string{StateIdle, StateStoryActive, StateAwaitingChoice, StateEnded}
}

func validState(s string) bool {
	switch s {
	case StateIdle, StateStoryActive, StateAwaitingChoice, StateEnded:
		return true
	}
	return false
}

// Session is one adventure. STORY_ACTIVE means a beat is owed: the
// last accepted intent was persisted but its generation has not landed
// yet, so a retry regenerates from Context instead of advancing twice.
type Session struct {
	Key          string
	State        string
	Theme        string
	Context      []story.Event
	Choices      []string
	ChannelIdx   int
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// PersonalKey addresses one sender's session on one channel.
func PersonalKey(sender string, channel int) string {
	return fmt.Sprintf("user:%s:%d", sender, channel)
}

// ChannelKey addresses the single shared session of a collaborative
// channel. The prefix keeps it out of reach of sender names.
func ChannelKey(channel int) string {
	return fmt.Sprintf("channel:%d", channel)
}

func WebKey(id string) string {
	return "web:" + id
}

func IsWebKey(key string) bool {
	return strings.HasPrefix(key, "web:")
}

// TelegramKey addresses the session of one Telegram chat.
func TelegramKey(chatID int64) string {
	return fmt.Sprintf("telegram:%d", chatID)
}

// DiscordKey addresses the session of one Discord channel.
func DiscordKey(channelID string) string {
	return "discord:" + channelID
}

// SharedChannel reports whether this session is a collaborative
// channel session rather than a personal one.
func (s *Session) SharedChannel() bool {
	return strings.HasPrefix(s.Key, "channel:")
}

// BeginStory accepts a start intent: theme set, context cleared, a
// beat owed.
func (s *Session) BeginStory(theme string) {
	s.State = StateStoryActive
	s.Theme = theme
	s.Context = nil
	s.Choices = nil
}

// AcceptChoice consumes option n (1-based, caller checks range): the
// picked label joins the context and the next beat is owed. Sender is
// recorded on shared sessions so the story can attribute the move.
func (s *Session) AcceptChoice(n int, sender string, maxContext int) {
	label := s.Choices[n-1]
	s.appendEvent(story.Event{Kind: story.EventChoice, Text: label, Sender: sender}, maxContext)
	s.Choices = nil
	s.State = StateStoryActive
}

// ApplyBeat lands a generated beat: the context grows by one narrative
// event and the session settles in AWAITING_CHOICE, or ENDED when the
// beat is terminal.
func (s *Session) ApplyBeat(b story.Beat, maxContext int) {
	s.appendEvent(story.Event{Kind: story.EventNarrative, Text: b.Text}, maxContext)

	if b.Terminal() {
		s.State = StateEnded
		s.Choices = nil
		return
	}

	s.State = StateAwaitingChoice
	s.Choices = append([]string(nil), b.Choices...)
}

// Reset clears the adventure back to IDLE.
func (s *Session) Reset() {
	s.State = StateIdle
	s.Theme = ""
	s.Context = nil
	s.Choices = nil
}

// NarrativeBeats counts story beats in the context.
func (s *Session) NarrativeBeats() int {
	n := 0
	for _, ev := range s.Context {
		if ev.Kind == story.EventNarrative {
			n++
		}
	}
	return n
}

func (s *Session) appendEvent(ev story.Event, max int) {
	s.Context = append(s.Context, ev)
	if max > 0 && len(s.Context) > max {
		s.Context = s.Context[len(s.Context)-max:]
	}
}
