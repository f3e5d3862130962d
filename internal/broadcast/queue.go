// Package broadcast queues bot-originated announcements until a mesh
// gateway polls them for transmission.
package broadcast

import (
	"sync"

	"github.com/google/uuid"

	"github.com/bowerhall/meshtale/internal/logger"
)

const DefaultCap = 100

// Message is one announcement waiting for a gateway to collect.
type Message struct {
	ID         string `json:"id"`
	Text       string `json:"message"`
	ChannelIdx int    `json:"channel_idx"`
}

// Queue hands announcements out in FIFO order. When full, the oldest
// entry is dropped so an offline gateway cannot grow it without bound.
type Queue struct {
	mu      sync.Mutex
	pending []Message
	cap     int
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Queue{cap: capacity}
}

// Push enqueues an announcement and returns the queued entry.
func (q *Queue) Push(text string, channelIdx int) Message {
	msg := Message{
		ID:         uuid.New().String(),
		Text:       text,
		ChannelIdx: channelIdx,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) >= q.cap {
		dropped := q.pending[0]
		q.pending = q.pending[1:]
		logger.Warn("Broadcast queue full, dropping oldest", "id", dropped.ID)
	}

	q.pending = append(q.pending, msg)
	return msg
}

// Pop removes and returns the oldest announcement, if any.
func (q *Queue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Message{}, false
	}

	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, true
}

// Len reports how many announcements are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}
