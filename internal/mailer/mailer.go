// Package mailer delivers sign-up confirmation emails.
package mailer

import (
	"context"
	"fmt"
)

// Confirmation is a sign-up confirmation email. Link carries the one-time token.
type Confirmation struct {
	To   string
	Name string
	Link string
}

// Subject is the email subject line.
func (c Confirmation) Subject() string {
	return "Confirm your M-taji account"
}

// Text is the plain-text email body.
func (c Confirmation) Text() string {
	greeting := "Hello"
	if c.Name != "" {
		greeting = "Hello " + c.Name
	}
	return fmt.Sprintf("%s,\n\nFollow this link to confirm your email address:\n\n%s\n\nIf you did not sign up, ignore this email.\n", greeting, c.Link)
}

// Sender delivers confirmation emails.
type Sender interface {
	SendConfirmation(ctx context.Context, c Confirmation) error
}
