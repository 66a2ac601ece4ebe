package runtime

import (
	"chat-relay/domain"
	"context"
	"sync"
	"sync/atomic"
)

// fakeSubscriber records delivered messages. It can fail or block on demand,
// and onConsume runs inside Consume before the message is recorded.
type fakeSubscriber struct {
	id         domain.ConnectionID
	user       domain.UserID
	fail       error
	block      bool
	onConsume  func(domain.Message)
	mu         sync.Mutex
	received   []domain.Message
	terminated atomic.Int32
	closed     atomic.Bool
}

func newFakeSubscriber(id domain.ConnectionID, user domain.UserID) *fakeSubscriber {
	return &fakeSubscriber{id: id, user: user}
}

func (f *fakeSubscriber) ConnectionID() domain.ConnectionID { return f.id }

func (f *fakeSubscriber) UserID() domain.UserID { return f.user }

func (f *fakeSubscriber) Consume(ctx context.Context, msg domain.Message) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.fail != nil {
		return f.fail
	}
	if f.onConsume != nil {
		f.onConsume(msg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
	return nil
}

func (f *fakeSubscriber) Terminate(error) {
	f.terminated.Add(1)
	f.closed.Store(true)
}

func (f *fakeSubscriber) Active() bool { return !f.closed.Load() }

func (f *fakeSubscriber) messages() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.received...)
}
