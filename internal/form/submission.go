// Package form parses HTML form submissions into an ordered field mapping
// and turns them into the plaintext body of a notification email.
package form

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// TokenField is the form field carrying the Turnstile challenge token.
const TokenField = "cf-turnstile-response"

// EmailField is the form field holding the submitter's address.
const EmailField = "email"

// ErrUnsupportedContentType is returned for request bodies that are not
// urlencoded or multipart form data.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// Field is one named form field with every value submitted for it.
type Field struct {
	Name   string
	Values []string
}

// Submission is a parsed form post. Fields keep the order in which each
// name first appeared in the request body.
type Submission struct {
	Fields   []Field
	RemoteIP string
	Token    string
}

// Add appends value to the field called name, creating the field at the end
// of the list if it has not been seen yet.
func (s *Submission) Add(name, value string) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			s.Fields[i].Values = append(s.Fields[i].Values, value)
			return
		}
	}
	s.Fields = append(s.Fields, Field{Name: name, Values: []string{value}})
}

// Values returns every value submitted for name, or nil.
func (s *Submission) Values(name string) []string {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Values
		}
	}
	return nil
}

// Email returns the concatenated values of the email field.
func (s *Submission) Email() string {
	return strings.Join(s.Values(EmailField), "")
}

// ParseRequest reads the body of r into a Submission. The body is limited
// to maxBytes. Blank values are dropped. The challenge token is the first
// value of TokenField; the field itself stays in Fields and is skipped by
// Format.
func ParseRequest(r *http.Request, maxBytes int64) (*Submission, error) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/x-www-form-urlencoded"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to parse content type: %w", err)
	}

	body := io.LimitReader(r.Body, maxBytes+1)

	var sub *Submission
	switch mediaType {
	case "application/x-www-form-urlencoded":
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		if int64(len(data)) > maxBytes {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxBytes)
		}
		sub = ParseURLEncoded(string(data))
	case "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, errors.New("multipart form missing boundary")
		}
		sub, err = parseMultipart(body, boundary, maxBytes)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, mediaType)
	}

	if tokens := sub.Values(TokenField); len(tokens) > 0 {
		sub.Token = tokens[0]
	}
	return sub, nil
}

// ParseURLEncoded decodes an application/x-www-form-urlencoded body,
// keeping field order and multiple values. Pairs with an empty value are
// skipped. A malformed percent escape such as "100%" is kept as literal
// text instead of rejecting the body.
func ParseURLEncoded(body string) *Submission {
	sub := &Submission{}
	for body != "" {
		var pair string
		pair, body, _ = strings.Cut(body, "&")
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		value := unescape(rawValue)
		if value == "" {
			continue
		}
		sub.Add(unescape(rawKey), value)
	}
	return sub
}

// unescape decodes '+' and each valid %XX sequence. Invalid sequences are
// copied through unchanged.
func unescape(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	default:
		return c - '0'
	}
}
