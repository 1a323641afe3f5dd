package pebblekv

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rzbill/keywatch/internal/kv"
)

// hub fans published messages out to pattern subscribers. Sends never block:
// a subscriber whose buffer is full misses the message.
type hub struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	buffer  int
	closed  bool
	dropped atomic.Uint64
	onDrop  func(channel string)
}

func newHub(buffer int, onDrop func(string)) *hub {
	if buffer <= 0 {
		buffer = 1024
	}
	return &hub{subs: make(map[*subscription]struct{}), buffer: buffer, onDrop: onDrop}
}

type subscription struct {
	h       *hub
	pattern string
	ch      chan kv.Message
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) end() {
	s.once.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

func (s *subscription) Messages() <-chan kv.Message { return s.ch }

func (s *subscription) Close() error {
	s.h.remove(s)
	return nil
}

func (h *hub) subscribe(ctx context.Context, pattern string) (*subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, kv.ErrClosed
	}
	s := &subscription{h: h, pattern: pattern, ch: make(chan kv.Message, h.buffer), done: make(chan struct{})}
	h.subs[s] = struct{}{}
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.remove(s)
			case <-s.done:
			}
		}()
	}
	return s, nil
}

func (h *hub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
	s.end()
}

func (h *hub) publish(channel, payload string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !kv.MatchPattern(s.pattern, channel) {
			continue
		}
		select {
		case s.ch <- kv.Message{Pattern: s.pattern, Channel: channel, Payload: payload}:
		default:
			h.dropped.Add(1)
			if h.onDrop != nil {
				h.onDrop(channel)
			}
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscription]struct{})
	h.closed = true
	h.mu.Unlock()
	for s := range subs {
		s.end()
	}
}
