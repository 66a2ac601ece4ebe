package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Router maps chats to their live subscribers and fans published messages out.
// It gives no delivery guarantee beyond "each current subscriber is attempted once".
type Router struct {
	log         *slog.Logger
	registry    contract.IRegistry
	directory   contract.Directory
	sinkTimeout time.Duration
}

func NewRouter(log *slog.Logger, registry contract.IRegistry, directory contract.Directory, sinkTimeout time.Duration) *Router {
	return &Router{
		log:         log,
		registry:    registry,
		directory:   directory,
		sinkTimeout: sinkTimeout,
	}
}

// Subscribe registers sub on chatID once the directory confirms membership.
// Subscribing twice is a no-op. A connection that closed meanwhile is rolled back
// with ErrConnectionClosed: its teardown may already have run and would not see the entry.
func (r *Router) Subscribe(ctx context.Context, sub contract.Subscriber, chatID domain.ChatID) error {
	ok, err := r.directory.IsParticipant(ctx, chatID, sub.UserID())
	if err != nil {
		return err
	}
	if !ok {
		return errors.ErrNotAParticipant
	}
	added := r.registry.Add(sub, chatID)
	if !sub.Active() {
		r.registry.RemoveConnection(sub.ConnectionID())
		return errors.ErrConnectionClosed
	}
	if added {
		r.log.Debug("Subscribed", "chat_id", chatID, "user_id", sub.UserID(), "connection_id", sub.ConnectionID())
	}
	return nil
}

func (r *Router) Unsubscribe(sub contract.Subscriber, chatID domain.ChatID) {
	if r.registry.Remove(sub.ConnectionID(), chatID) {
		r.log.Debug("Unsubscribed", "chat_id", chatID, "connection_id", sub.ConnectionID())
	}
}

// OnDisconnect removes every subscription of sub. Safe to call more than once.
func (r *Router) OnDisconnect(sub contract.Subscriber) {
	chats := r.registry.RemoveConnection(sub.ConnectionID())
	if chats != nil {
		r.log.Debug("Connection removed", "connection_id", sub.ConnectionID(), "user_id", sub.UserID(), "chats", len(chats))
	}
}

// Publish hands msg to every current subscriber of the chat concurrently and
// waits for all of them. A subscriber that fails or exceeds sinkTimeout is evicted.
// It returns the number of successful deliveries.
func (r *Router) Publish(ctx context.Context, chatID domain.ChatID, msg domain.Message) int {
	subs := r.registry.SubscribersOf(chatID)
	if len(subs) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	delivered := 0
	for _, sub := range subs {
		wg.Add(1)
		go func(sub contract.Subscriber) {
			defer wg.Done()
			deliveryCtx, cancel := context.WithTimeout(ctx, r.sinkTimeout)
			defer cancel()
			if err := sub.Consume(deliveryCtx, msg); err != nil {
				r.evict(sub, chatID, err)
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(sub)
	}
	wg.Wait()
	return delivered
}

func (r *Router) evict(sub contract.Subscriber, chatID domain.ChatID, cause error) {
	r.log.Warn("Delivery failed, evicting connection",
		"chat_id", chatID, "connection_id", sub.ConnectionID(), "user_id", sub.UserID(), "error", cause)
	r.OnDisconnect(sub)
	sub.Terminate(fmt.Errorf("%w: %w", errors.ErrSlowConsumer, cause))
}
