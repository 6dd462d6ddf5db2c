package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// ConsoleNotifier prints messages instead of sending them
type ConsoleNotifier struct {
	mu    sync.Mutex
	out   io.Writer
	count int
}

// NewConsoleNotifier creates a notifier writing to out, or stdout when out
// is nil.
func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleNotifier{out: out}
}

// Send prints the message that would be delivered
func (n *ConsoleNotifier) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.count++
	if _, err := fmt.Fprintf(n.out, "--- Message %d ---\n%s\n\n", n.count, text); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Name returns "console".
func (n *ConsoleNotifier) Name() string {
	return "console"
}
