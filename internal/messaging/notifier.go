package messaging

import "context"

type Message struct {
	To       string
	Subject  string
	HTML     string
	UserID   string
	Template TemplateKey
}

// Notifier delivers one message and returns the provider's message id.
type Notifier interface {
	Send(ctx context.Context, msg Message) (string, error)
}
