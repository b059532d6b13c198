package push

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

const connectionBuffer = 16

// Hub keeps the live connections of this process grouped by user id.
type Hub struct {
	logger log.FieldLogger

	mu     sync.Mutex
	groups map[string]map[chan Message]struct{}
}

func NewHub(logger log.FieldLogger) *Hub {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{logger: logger, groups: make(map[string]map[chan Message]struct{})}
}

// Subscribe adds a connection to group. The returned function removes it.
func (h *Hub) Subscribe(group string) (<-chan Message, func()) {
	ch := make(chan Message, connectionBuffer)
	h.mu.Lock()
	conns, ok := h.groups[group]
	if !ok {
		conns = make(map[chan Message]struct{})
		h.groups[group] = conns
	}
	conns[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.groups[group], ch)
			if len(h.groups[group]) == 0 {
				delete(h.groups, group)
			}
			h.mu.Unlock()
		})
	}
}

// Connections reports how many live connections group has.
func (h *Hub) Connections(group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[group])
}

// Send delivers msg to every connection of its group without blocking. A
// connection whose buffer is full misses the message.
func (h *Hub) Send(_ context.Context, msg Message) error {
	if msg.Group == "" {
		return ErrEmptyGroup
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.groups[msg.Group]
	if len(conns) == 0 {
		h.logger.WithFields(log.Fields{"group": msg.Group, "event": msg.Event}).Debug("no live connection, push dropped")
		return nil
	}
	for ch := range conns {
		select {
		case ch <- msg:
		default:
			h.logger.WithField("group", msg.Group).Warn("slow connection, push dropped")
		}
	}
	return nil
}
