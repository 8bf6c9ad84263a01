// Package email defines the outbound message model shared by the dispatcher
// and the delivery providers.
package email

// Email is a single plaintext message ready for delivery.
type Email struct {
	From      string
	To        []string
	ReplyTo   []string
	Subject   string
	TextBody  string
	MessageID string
}
