package dialog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Queue is the transport the dispatcher routes turns through. One
// implementation is in-memory for single-node deployments, the other is
// SQS (or LocalStack) for durable fan-out.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// jobPayload is one queued conversation turn. The tenant travels as its id
// and is re-loaded by the worker, so payloads stay small and survive tenant
// config edits.
type jobPayload struct {
	ID          string    `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	Body        string    `json:"body"`
	ProviderSID string    `json:"provider_sid,omitempty"`
}

// MemoryQueue is a Queue backed by a buffered channel.
type MemoryQueue struct {
	ch chan queueMessage
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{ch: make(chan queueMessage, buffer)}
}

func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	msg := queueMessage{
		ID:            uuid.NewString(),
		Body:          body,
		ReceiptHandle: uuid.NewString(),
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message arrives, waitSeconds elapses, or ctx is
// done. It drains up to maxMessages without further blocking.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	var first queueMessage
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case first = <-q.ch:
	}

	msgs := []queueMessage{first}
	for len(msgs) < maxMessages {
		select {
		case msg := <-q.ch:
			msgs = append(msgs, msg)
		default:
			return msgs, nil
		}
	}
	return msgs, nil
}

// Delete is a no-op; channel receives already consume the message.
func (q *MemoryQueue) Delete(_ context.Context, _ string) error {
	return nil
}
