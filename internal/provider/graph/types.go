// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"github.com/shineum/form-relay/internal/email"
)

type sendMailRequest struct {
	Message sendMailMessage `json:"message"`
}

type sendMailMessage struct {
	Subject                string           `json:"subject"`
	Body                   messageBody      `json:"body"`
	ToRecipients           []recipient      `json:"toRecipients"`
	ReplyTo                []recipient      `json:"replyTo,omitempty"`
	InternetMessageHeaders []internetHeader `json:"internetMessageHeaders,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

// internetHeader is a custom header; Graph only accepts names starting
// with "X-".
type internetHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// tokenResponse is the OAuth2 token endpoint response. Error fields are set
// only on failure.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func recipients(addrs []string) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, recipient{EmailAddress: emailAddress{Address: addr}})
	}
	return out
}

// buildSendMailRequest converts an email.Email into a plain-text sendMail
// request body. The relay's Message-ID travels as X-Form-Relay-Id since
// Graph assigns its own Message-ID.
func buildSendMailRequest(msg *email.Email) *sendMailRequest {
	m := sendMailMessage{
		Subject:      msg.Subject,
		Body:         messageBody{ContentType: "text", Content: msg.TextBody},
		ToRecipients: recipients(msg.To),
	}
	if len(msg.ReplyTo) > 0 {
		m.ReplyTo = recipients(msg.ReplyTo)
	}
	if msg.MessageID != "" {
		m.InternetMessageHeaders = []internetHeader{{Name: "X-Form-Relay-Id", Value: msg.MessageID}}
	}
	return &sendMailRequest{Message: m}
}
