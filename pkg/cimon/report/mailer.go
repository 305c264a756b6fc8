package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendGridHost = "https://api.sendgrid.com"

// Message is one outgoing digest mail.
type Message struct {
	FromName  string
	FromEmail string
	To        []string
	Subject   string
	HTML      string
	Text      string
}

// Mailer delivers a rendered digest.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridMailer delivers through the SendGrid v3 mail API.
type SendGridMailer struct {
	apiKey string
	host   string
}

// NewSendGridMailer returns a mailer for the given API key. An empty host
// selects the public SendGrid endpoint.
func NewSendGridMailer(apiKey, host string) (*SendGridMailer, error) {
	if apiKey == "" {
		return nil, errors.New("sendgrid: api key is required")
	}
	if host == "" {
		host = sendGridHost
	}
	return &SendGridMailer{apiKey: apiKey, host: strings.TrimRight(host, "/")}, nil
}

// Send implements Mailer.
func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("sendgrid: no recipients")
	}

	v3 := mail.NewV3Mail()
	v3.SetFrom(mail.NewEmail(msg.FromName, msg.FromEmail))
	v3.Subject = msg.Subject

	p := mail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(mail.NewEmail("", to))
	}
	v3.AddPersonalizations(p)

	if msg.Text != "" {
		v3.AddContent(mail.NewContent("text/plain", msg.Text))
	}
	v3.AddContent(mail.NewContent("text/html", msg.HTML))

	req := sendgrid.GetRequest(m.apiKey, "/v3/mail/send", m.host)
	req.Method = "POST"
	req.Body = mail.GetRequestBody(v3)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	return nil
}

// DirMailer writes each digest to an HTML file instead of sending it. It is
// the fallback when no mail credentials are configured.
type DirMailer struct {
	Dir string
	Now func() time.Time
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Send implements Mailer.
func (m *DirMailer) Send(ctx context.Context, msg Message) error {
	if err := os.MkdirAll(m.Dir, 0755); err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	name := now().UTC().Format("20060102-150405") + "-" + strings.Trim(unsafeName.ReplaceAllString(msg.Subject, "-"), "-") + ".html"
	path := filepath.Join(m.Dir, name)
	if err := os.WriteFile(path, []byte(msg.HTML), 0644); err != nil {
		return fmt.Errorf("write digest: %w", err)
	}
	return nil
}
