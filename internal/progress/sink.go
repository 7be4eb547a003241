package progress

import "context"

// Sink consumes batches of events. Consume and Close may be called from the
// hub goroutine only, but implementations that are read elsewhere must lock.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events.
type Emitter interface {
	Emit(evt Event)
}
