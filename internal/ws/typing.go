package ws

import (
	"sync"
	"time"

	"github.com/roumaissazd/ApplicationSummerIntership/internal/metrics"
)

// TypingBroadcaster relays ephemeral typing signals. State here is
// intentionally lossy: nothing is persisted, nothing is retried, and every
// entry carries a TTL so a session that hangs without disconnecting cannot
// leave a stale "is typing" indicator behind.
type TypingBroadcaster struct {
	b   Broadcaster
	ttl time.Duration

	mu     sync.Mutex
	active map[typingKey]*typingEntry
	stop   chan struct{}
	once   sync.Once
}

type typingKey struct {
	sessionID      string
	conversationID uint
}

type typingEntry struct {
	client *Client
	since  time.Time
}

func NewTypingBroadcaster(b Broadcaster, ttl time.Duration) *TypingBroadcaster {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &TypingBroadcaster{
		b:      b,
		ttl:    ttl,
		active: make(map[typingKey]*typingEntry),
		stop:   make(chan struct{}),
	}
}

// Start launches the sweep goroutine that expires idle typing state.
func (t *TypingBroadcaster) Start() {
	go t.sweep()
}

func (t *TypingBroadcaster) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// Set updates the session's typing state for a conversation and notifies the
// room on state change. A repeated isTyping=true refreshes the TTL without
// rebroadcasting; a false with no active entry is a no-op.
func (t *TypingBroadcaster) Set(c *Client, conversationID uint, isTyping bool) {
	key := typingKey{sessionID: c.sessionID, conversationID: conversationID}

	t.mu.Lock()
	entry, was := t.active[key]
	if isTyping {
		if was {
			entry.since = time.Now()
		} else {
			t.active[key] = &typingEntry{client: c, since: time.Now()}
		}
	} else if was {
		delete(t.active, key)
	}
	t.mu.Unlock()

	if isTyping == was {
		return
	}
	metrics.TypingEventsTotal.Inc()
	t.b.Broadcast(conversationID, UserTypingEvent(conversationID, c.userID, isTyping), c.sessionID)
}

// ClearSession drops every typing entry for a disconnecting session and
// synthesizes a final isTyping=false for each room that last saw true. Called
// from the disconnect path before the session leaves its rooms.
func (t *TypingBroadcaster) ClearSession(c *Client) {
	t.mu.Lock()
	var cleared []uint
	for key := range t.active {
		if key.sessionID == c.sessionID {
			cleared = append(cleared, key.conversationID)
			delete(t.active, key)
		}
	}
	t.mu.Unlock()

	for _, convID := range cleared {
		t.b.Broadcast(convID, UserTypingEvent(convID, c.userID, false), c.sessionID)
	}
}

func (t *TypingBroadcaster) sweep() {
	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.expire(time.Now())
		}
	}
}

func (t *TypingBroadcaster) expire(now time.Time) {
	type expired struct {
		conversationID uint
		client         *Client
	}
	t.mu.Lock()
	var out []expired
	for key, entry := range t.active {
		if now.Sub(entry.since) > t.ttl {
			out = append(out, expired{conversationID: key.conversationID, client: entry.client})
			delete(t.active, key)
		}
	}
	t.mu.Unlock()

	for _, e := range out {
		t.b.Broadcast(e.conversationID, UserTypingEvent(e.conversationID, e.client.userID, false), e.client.sessionID)
	}
}
