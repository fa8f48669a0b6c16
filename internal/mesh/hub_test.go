package mesh

import (
	"context"
	"sync"
)

// hub is an in-process Transport fabric. Every published message reaches
// every other subscriber of the topic.
type hub struct {
	mu     sync.Mutex
	peers  map[string]*hubPeer
	topics map[string][]*hubTopic
}

func newHub() *hub {
	return &hub{
		peers:  make(map[string]*hubPeer),
		topics: make(map[string][]*hubTopic),
	}
}

func (h *hub) peer(id string) *hubPeer {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := &hubPeer{hub: h, id: id, disconnected: make(chan string, 16)}
	h.peers[id] = p

	return p
}

// drop removes p without a leave message and notifies the others.
func (h *hub) drop(p *hubPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.peers, p.id)
	for name, subs := range h.topics {
		kept := subs[:0]
		for _, t := range subs {
			if t.owner != p {
				kept = append(kept, t)
			}
		}
		h.topics[name] = kept
	}
	for _, other := range h.peers {
		other.disconnected <- p.id
	}
}

type hubPeer struct {
	hub          *hub
	id           string
	disconnected chan string
}

func (p *hubPeer) ID() string { return p.id }

func (p *hubPeer) Join(name string) (Topic, error) {
	t := &hubTopic{name: name, owner: p, ch: make(chan Message, 256), done: make(chan struct{})}

	p.hub.mu.Lock()
	p.hub.topics[name] = append(p.hub.topics[name], t)
	p.hub.mu.Unlock()

	return t, nil
}

func (p *hubPeer) Disconnected() <-chan string { return p.disconnected }

func (p *hubPeer) Close() error {
	p.hub.drop(p)
	return nil
}

type hubTopic struct {
	name  string
	owner *hubPeer
	ch    chan Message
	done  chan struct{}
	once  sync.Once
}

func (t *hubTopic) Publish(ctx context.Context, data []byte) error {
	h := t.owner.hub
	h.mu.Lock()
	if h.peers[t.owner.id] != t.owner {
		h.mu.Unlock()
		return ErrTransportClosed
	}
	subs := append([]*hubTopic(nil), h.topics[t.name]...)
	h.mu.Unlock()

	for _, sub := range subs {
		if sub.owner == t.owner {
			continue
		}
		select {
		case sub.ch <- Message{From: t.owner.id, Data: append([]byte(nil), data...)}:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (t *hubTopic) Next(ctx context.Context) (Message, error) {
	select {
	case m := <-t.ch:
		return m, nil
	case <-t.done:
		return Message{}, ErrTransportClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (t *hubTopic) Close() error {
	t.once.Do(func() {
		close(t.done)

		h := t.owner.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.topics[t.name]
		for i, sub := range subs {
			if sub == t {
				h.topics[t.name] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	})

	return nil
}
