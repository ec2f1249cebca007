// internal/notify/email.go
package notify

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SMTPSender delivers HTML email through the configured SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(host string, port int, username, password, from string) (*SMTPSender, error) {
	if host == "" || username == "" {
		return nil, fmt.Errorf("smtp credentials not configured")
	}
	if from == "" {
		from = username
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}, nil
}

// Send delivers one message. gomail has no context support and returns
// no server message id, so a synthetic id is generated for the result
// trail; the transport's own timeouts bound the call.
func (s *SMTPSender) Send(_ context.Context, to, subject, htmlBody string) (string, error) {
	if !emailPattern.MatchString(to) {
		return "", fmt.Errorf("invalid email address: %q", to)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return uuid.NewString(), nil
}
