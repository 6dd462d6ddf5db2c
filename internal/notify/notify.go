package notify

import (
	"context"
)

// Kind identifies which notification a transition produces.
type Kind string

const (
	KindNone       Kind = ""
	KindOK         Kind = "ok"
	KindChanged    Kind = "changed"
	KindMissing    Kind = "missing"
	KindFoundAgain Kind = "found_again"
)

// Notifier delivers a rendered message to a chat.
type Notifier interface {
	// Send delivers text. Implementations retry transient failures
	// themselves; a returned error means the message was not delivered.
	Send(ctx context.Context, text string) error
	// Name identifies the backend in logs and metrics.
	Name() string
}
