//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging during supervision, so workers don't need to name themselves.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Subscriber is a live connection as seen by the router.
// Consume must not block longer than ctx allows.
// Terminate closes the underlying transport; it is safe to call more than once.
type Subscriber interface {
	ConnectionID() domain.ConnectionID
	UserID() domain.UserID
	Consume(ctx context.Context, msg domain.Message) error
	Terminate(reason error)
	// Active is false once the connection started closing.
	Active() bool
}

type IRegistry interface {
	Add(sub Subscriber, chatID domain.ChatID) bool
	Remove(connID domain.ConnectionID, chatID domain.ChatID) bool
	RemoveConnection(connID domain.ConnectionID) []domain.ChatID
	SubscribersOf(chatID domain.ChatID) []Subscriber
	Stats() domain.RegistryStats
}

type Directory interface {
	CreateChat(ctx context.Context, requester domain.UserID, participants []domain.UserID, name string) (domain.Chat, error)
	GetChat(ctx context.Context, chatID domain.ChatID) (domain.Chat, error)
	IsParticipant(ctx context.Context, chatID domain.ChatID, userID domain.UserID) (bool, error)
	ListChatsFor(ctx context.Context, userID domain.UserID) ([]domain.Chat, error)
}

// ActivityRecorder is the narrow hook the message store calls after an append.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, chatID domain.ChatID, at int64) error
}

type MessageStore interface {
	Append(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, error)
	History(ctx context.Context, chatID domain.ChatID, before domain.MessageID, limit int) ([]domain.Message, error)
}

type IOrchestrator interface {
	PostMessage(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, error)
	Subscribe(ctx context.Context, sub Subscriber, chatID domain.ChatID) error
	Unsubscribe(sub Subscriber, chatID domain.ChatID)
	Disconnect(sub Subscriber)
}

// Verifier is the authentication collaborator: bearer token in, user id out.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.UserID, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
