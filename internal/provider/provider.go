package provider

import "context"

// EmailSender is the outbound transactional-email port.
type EmailSender interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

// Message is one outbound email. ReplyTo carries the token-derived
// correlation address.
type Message struct {
	To      string
	Subject string
	Body    string
	ReplyTo string
}

// SendResult stores provider call metadata for logging.
type SendResult struct {
	StatusCode int
	MessageID  string
}
