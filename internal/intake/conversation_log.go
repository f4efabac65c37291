package intake

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// WelcomeMessageID is the fixed id of the greeting seeded into a new log.
const WelcomeMessageID = "welcome-message"

// IDGenerator produces message ids of the form <role>-<counter>-<suffix>.
// The counter only moves forward, so ids sort in creation order even when
// two messages land in the same clock tick; the random suffix keeps ids
// unique across generators.
type IDGenerator struct {
	last atomic.Int64
	now  func() time.Time
}

func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

func (g *IDGenerator) Next(role Role) string {
	for {
		prev := g.last.Load()
		next := g.now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if g.last.CompareAndSwap(prev, next) {
			suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
			return fmt.Sprintf("%s-%d-%s", role, next, suffix)
		}
	}
}

// ConversationLog is the append-only visible transcript of a session.
type ConversationLog struct {
	ids      *IDGenerator
	now      func() time.Time
	messages []Message
}

func NewConversationLog(ids *IDGenerator, now func() time.Time) *ConversationLog {
	if now == nil {
		now = time.Now
	}
	if ids == nil {
		ids = NewIDGenerator(now)
	}
	return &ConversationLog{ids: ids, now: now}
}

// Seed appends the welcome message when the log is empty.
func (l *ConversationLog) Seed(content string) {
	if content == "" || len(l.messages) > 0 {
		return
	}
	l.messages = append(l.messages, Message{
		ID:        WelcomeMessageID,
		Role:      RoleBot,
		Content:   content,
		CreatedAt: l.now().UTC(),
	})
}

// Append adds a message and returns it.
func (l *ConversationLog) Append(role Role, content string) Message {
	msg := Message{
		ID:        l.ids.Next(role),
		Role:      role,
		Content:   content,
		CreatedAt: l.now().UTC(),
	}
	l.messages = append(l.messages, msg)
	return msg
}

// Messages returns a copy of the log in append order.
func (l *ConversationLog) Messages() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *ConversationLog) Len() int {
	return len(l.messages)
}

// restore replaces the log contents with a stored history.
func (l *ConversationLog) restore(msgs []Message) {
	l.messages = append([]Message(nil), msgs...)
}

func (l *ConversationLog) clear() {
	l.messages = nil
}
