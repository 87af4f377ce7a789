package chat

import "sync"

// Hub fans messages out to the subscribers of each channel. It is process
// local; there is no replay, a subscriber sees only what is published after
// it subscribed.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topic
	buffer int
}

type topic struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is one independent cursor on a channel. Messages is closed
// when the subscription is closed or evicted.
type Subscription struct {
	hub     *Hub
	channel string
	send    chan Message
	once    sync.Once
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{topics: make(map[string]*topic), buffer: buffer}
}

func (h *Hub) Subscribe(channel string) *Subscription {
	s := &Subscription{hub: h, channel: channel, send: make(chan Message, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[channel]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[channel] = t
	}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	t.mu.Unlock()

	return s
}

// Publish delivers msg to every current subscriber of channel and returns
// how many received it. Sends never block: a subscriber whose buffer is full
// is evicted. Concurrent publishes to one channel are serialised, so every
// subscriber observes them in the same order.
func (h *Hub) Publish(channel string, msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, ok := h.topics[channel]
	if !ok {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	delivered := 0
	for s := range t.subs {
		select {
		case s.send <- msg:
			delivered++
		default:
			delete(t.subs, s)
			close(s.send)
		}
	}
	return delivered
}

// Subscribers reports the number of live subscriptions on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, ok := h.topics[channel]
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[s.channel]
	if !ok {
		return
	}

	t.mu.Lock()
	if _, ok := t.subs[s]; ok {
		delete(t.subs, s)
		close(s.send)
	}
	empty := len(t.subs) == 0
	t.mu.Unlock()

	if empty {
		delete(h.topics, s.channel)
	}
}

func (s *Subscription) Messages() <-chan Message {
	return s.send
}

func (s *Subscription) Channel() string {
	return s.channel
}

// Close unsubscribes. It is safe to call more than once and after eviction.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}
