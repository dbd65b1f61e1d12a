package mailer

import (
	"context"
	"sync"
)

// Outbox keeps the last confirmation per recipient in memory. It backs the development
// mailbox endpoint and tests; it is never used in production.
type Outbox struct {
	mu   sync.RWMutex
	last map[string]Confirmation
	sent int
}

func NewOutbox() *Outbox {
	return &Outbox{last: make(map[string]Confirmation)}
}

// SendConfirmation records c, replacing any earlier confirmation for the same recipient.
func (o *Outbox) SendConfirmation(ctx context.Context, c Confirmation) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.last[c.To] = c
	o.sent++
	return nil
}

// Last returns the most recent confirmation sent to email.
func (o *Outbox) Last(email string) (Confirmation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.last[email]
	return c, ok
}

// Sent is the number of confirmations recorded.
func (o *Outbox) Sent() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sent
}
