package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is the common envelope for facts recorded about an aggregate.
type DomainEvent struct {
	Id         uuid.UUID
	Name       string
	Aggregate  uuid.UUID
	OccurredAt time.Time
	Payload    map[string]interface{}
}

func newEvent(name string, aggregate uuid.UUID, payload map[string]interface{}) DomainEvent {
	return DomainEvent{
		Id:         uuid.New(),
		Name:       name,
		Aggregate:  aggregate,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

func FormCreated(formId, workspaceId uuid.UUID) DomainEvent {
	return newEvent("form.created", formId, map[string]interface{}{"workspace_id": workspaceId.String()})
}

func FormPublished(formId, versionId uuid.UUID, versionNumber int) DomainEvent {
	return newEvent("form.published", formId, map[string]interface{}{
		"version_id":     versionId.String(),
		"version_number": versionNumber,
	})
}

func SubmissionReceived(submissionId, formId uuid.UUID) DomainEvent {
	return newEvent("submission.received", submissionId, map[string]interface{}{"form_id": formId.String()})
}

type Handler func(DomainEvent)

// Bus is the seam where webhook or automation delivery would plug in.
type Bus interface {
	Subscribe(name string, handler Handler)
	Publish(event DomainEvent)
}

type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string][]Handler)}
}

func (b *InMemoryBus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

func (b *InMemoryBus) Publish(event DomainEvent) {
	b.mu.RLock()
	handlers := b.handlers[event.Name]
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
