// Package runtime owns the live delivery state of the relay: who is subscribed to what,
// how a published message reaches subscribers, and the supervised background workers.
// It contains no persistence and no transport code.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"log/slog"
	"sync"
	"time"
)

type Orchestrator struct {
	log          *slog.Logger
	supervisor   contract.ISupervisor
	registry     contract.IRegistry
	router       *Router
	directory    contract.Directory
	store        contract.MessageStore
	publishLocks sync.Map // domain.ChatID -> *sync.Mutex
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor,
	registry contract.IRegistry, directory contract.Directory, store contract.MessageStore,
	sinkTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		log:        log,
		supervisor: supervisor,
		registry:   registry,
		router:     NewRouter(log, registry, directory, sinkTimeout),
		directory:  directory,
		store:      store,
	}
}

// Add registers background workers started with the orchestrator.
func (o *Orchestrator) Add(workers ...contract.Worker) *Orchestrator {
	o.supervisor.Add(workers...)
	return o
}

// PostMessage checks membership, appends and fans out.
// Append and fan-out run under the chat's publish lock, so every subscriber
// observes messages of a chat in append order.
func (o *Orchestrator) PostMessage(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, error) {
	ok, err := o.directory.IsParticipant(ctx, cmd.ChatID, cmd.SenderID)
	if err != nil {
		return domain.Message{}, err
	}
	if !ok {
		return domain.Message{}, errors.ErrNotAParticipant
	}

	lock := o.publishLock(cmd.ChatID)
	lock.Lock()
	defer lock.Unlock()

	msg, err := o.store.Append(ctx, cmd)
	if err != nil {
		return domain.Message{}, err
	}
	// The message is durable: the sender going away must not cut the fan-out short.
	delivered := o.router.Publish(context.WithoutCancel(ctx), msg.ChatID, msg)
	o.log.Debug("Message published", "chat_id", msg.ChatID, "message_id", msg.ID, "delivered", delivered)
	return msg, nil
}

func (o *Orchestrator) Subscribe(ctx context.Context, sub contract.Subscriber, chatID domain.ChatID) error {
	return o.router.Subscribe(ctx, sub, chatID)
}

func (o *Orchestrator) Unsubscribe(sub contract.Subscriber, chatID domain.ChatID) {
	o.router.Unsubscribe(sub, chatID)
}

func (o *Orchestrator) Disconnect(sub contract.Subscriber) {
	o.router.OnDisconnect(sub)
}

func (o *Orchestrator) Stats() domain.RegistryStats {
	return o.registry.Stats()
}

// Start runs the supervised workers and blocks until ctx is canceled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.log.Info("Starting orchestrator and all supervised workers")
	o.supervisor.Run(ctx)
}

func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}

func (o *Orchestrator) publishLock(chatID domain.ChatID) *sync.Mutex {
	if v, ok := o.publishLocks.Load(chatID); ok {
		return v.(*sync.Mutex)
	}
	v, _ := o.publishLocks.LoadOrStore(chatID, &sync.Mutex{})
	return v.(*sync.Mutex)
}
