// Package alert delivers best-effort operational emails for conditions
// that need human follow-up. Delivery failures are logged, never
// propagated: an alert must not take the engine down with it.
package alert

import (
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type Mailer struct {
	host string
	port int
	from string
	to   string
	log  *zap.Logger
}

// NewMailer returns a mailer; with an empty host or recipient it becomes
// a no-op, which is the default in development.
func NewMailer(host string, port int, from, to string, logger *zap.Logger) *Mailer {
	return &Mailer{host: host, port: port, from: from, to: to, log: logger}
}

func (m *Mailer) enabled() bool {
	return m.host != "" && m.to != ""
}

func (m *Mailer) Notify(subject, body string) {
	if !m.enabled() {
		m.log.Warn("ops alert suppressed, no SMTP configured",
			zap.String("subject", subject),
		)
		return
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to)
	msg.SetHeader("Subject", "[sendwave] "+subject)
	msg.SetBody("text/plain", body)

	d := gomail.NewDialer(m.host, m.port, "", "")
	if err := d.DialAndSend(msg); err != nil {
		m.log.Error("ops alert send failed",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
