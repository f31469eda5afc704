package source

import (
	"context"
	"time"
)

// Message is one raw payload as received from a transport.
type Message struct {
	Origin     string // "mqtt:<topic>" or "http"
	Payload    []byte
	ReceivedAt time.Time
}

// Push sends msg on out, blocking until there is room or ctx is done.
func Push(ctx context.Context, out chan<- Message, msg Message) error {
	select {
	case out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
