package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"sync"
)

// Registry tracks which live connection is subscribed to which chat.
// The two top-level tables are sync.Maps; every topic and every connection
// carries its own lock. When both are needed the connection lock is taken first.
type Registry struct {
	topics      sync.Map // domain.ChatID -> *topic
	connections sync.Map // domain.ConnectionID -> *connection
}

type topic struct {
	mu          sync.RWMutex
	dead        bool // unlinked from the table, a new topic must be created
	subscribers map[domain.ConnectionID]contract.Subscriber
}

type connection struct {
	mu      sync.Mutex
	removed bool
	chats   map[domain.ChatID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add subscribes sub to chatID. It returns false when the subscription already existed.
func (r *Registry) Add(sub contract.Subscriber, chatID domain.ChatID) bool {
	connID := sub.ConnectionID()
	for {
		v, _ := r.connections.LoadOrStore(connID, &connection{chats: make(map[domain.ChatID]struct{})})
		conn := v.(*connection)
		conn.mu.Lock()
		if conn.removed {
			conn.mu.Unlock()
			continue
		}

		t := r.topicOf(chatID)
		t.mu.Lock()
		if t.dead {
			t.mu.Unlock()
			conn.mu.Unlock()
			continue
		}
		_, exists := t.subscribers[connID]
		t.subscribers[connID] = sub
		t.mu.Unlock()

		conn.chats[chatID] = struct{}{}
		conn.mu.Unlock()
		return !exists
	}
}

// Remove drops one subscription. It returns false when there was nothing to remove.
func (r *Registry) Remove(connID domain.ConnectionID, chatID domain.ChatID) bool {
	v, ok := r.connections.Load(connID)
	if !ok {
		return false
	}
	conn := v.(*connection)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if _, ok := conn.chats[chatID]; !ok || conn.removed {
		return false
	}
	delete(conn.chats, chatID)
	r.unlink(chatID, connID)
	return true
}

// RemoveConnection drops every subscription of a connection and forgets it.
// It returns the chats it was subscribed to; a second call returns nothing.
func (r *Registry) RemoveConnection(connID domain.ConnectionID) []domain.ChatID {
	v, ok := r.connections.Load(connID)
	if !ok {
		return nil
	}
	conn := v.(*connection)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.removed {
		return nil
	}
	conn.removed = true
	r.connections.CompareAndDelete(connID, conn)

	chats := make([]domain.ChatID, 0, len(conn.chats))
	for chatID := range conn.chats {
		r.unlink(chatID, connID)
		chats = append(chats, chatID)
	}
	conn.chats = nil
	return chats
}

// SubscribersOf returns a snapshot of the subscribers of a chat.
func (r *Registry) SubscribersOf(chatID domain.ChatID) []contract.Subscriber {
	v, ok := r.topics.Load(chatID)
	if !ok {
		return nil
	}
	t := v.(*topic)
	t.mu.RLock()
	defer t.mu.RUnlock()
	subs := make([]contract.Subscriber, 0, len(t.subscribers))
	for _, sub := range t.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

func (r *Registry) Stats() domain.RegistryStats {
	var stats domain.RegistryStats
	r.connections.Range(func(_, _ any) bool {
		stats.Connections++
		return true
	})
	r.topics.Range(func(_, v any) bool {
		t := v.(*topic)
		t.mu.RLock()
		stats.Subscriptions += len(t.subscribers)
		t.mu.RUnlock()
		stats.Topics++
		return true
	})
	return stats
}

func (r *Registry) topicOf(chatID domain.ChatID) *topic {
	if v, ok := r.topics.Load(chatID); ok {
		return v.(*topic)
	}
	v, _ := r.topics.LoadOrStore(chatID, &topic{subscribers: make(map[domain.ConnectionID]contract.Subscriber)})
	return v.(*topic)
}

// unlink removes connID from a topic and drops the topic once it is empty.
func (r *Registry) unlink(chatID domain.ChatID, connID domain.ConnectionID) {
	v, ok := r.topics.Load(chatID)
	if !ok {
		return
	}
	t := v.(*topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscribers, connID)
	if len(t.subscribers) == 0 && !t.dead {
		t.dead = true
		r.topics.CompareAndDelete(chatID, t)
	}
}
