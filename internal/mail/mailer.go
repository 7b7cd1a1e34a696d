// Package mail delivers rendered email notifications. Messages arrive as
// full text with RFC-822-style headers (To/From/Subject/Cc) at the top,
// the way notification templates are written; the mailer parses those and
// hands the rest to SMTP.
package mail

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is the fallback sender when the message doesn't carry one.
	From string
}

type Mailer struct {
	cfg Config
}

// Sender is what the action layer depends on; tests substitute their own.
type Sender interface {
	Send(message string) error
}

func New(cfg Config) *Mailer {
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	return &Mailer{cfg: cfg}
}

// Send parses the message's leading headers and delivers it. Unknown
// headers are ignored; a message without a To header is an error.
func (m *Mailer) Send(message string) error {
	if strings.TrimSpace(m.cfg.Host) == "" {
		return errors.New("mail transport is not configured")
	}

	headers, body := splitMessage(message)

	e := email.NewEmail()
	e.From = headers["from"]
	if e.From == "" {
		e.From = m.cfg.From
	}
	if to := headers["to"]; to != "" {
		e.To = splitAddrs(to)
	}
	if cc := headers["cc"]; cc != "" {
		e.Cc = splitAddrs(cc)
	}
	e.Subject = headers["subject"]
	e.Text = []byte(body)

	if len(e.To) == 0 {
		return errors.New("message has no To header")
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	return e.Send(addr, auth)
}

// splitMessage separates leading "Name: Value" header lines from the body.
// The first blank line, or the first line that doesn't parse as a header,
// ends the header block.
func splitMessage(message string) (map[string]string, string) {
	headers := map[string]string{}
	lines := strings.Split(message, "\n")

	i := 0
	for ; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) == "" {
			i++
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.ContainsAny(name, " \t") {
			break
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	return headers, strings.Join(lines[i:], "\n")
}

func splitAddrs(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
