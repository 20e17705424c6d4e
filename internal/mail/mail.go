// Package mail sends account notification emails.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Message is a single outbound HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds SMTP connection parameters.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender delivers mail through an SMTP relay, upgrading with STARTTLS when offered.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMIME(s.cfg.From, msg)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return c.Quit()
}

func buildMIME(from string, msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.HTML, "\n", "\r\n"))
	return b.Bytes()
}

// LogSender records messages in the log instead of delivering them.
// It is used when outbound mail is disabled.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Mail delivery disabled, message not sent")
	return nil
}

var templates = template.Must(template.New("mail").Parse(`
{{define "verify"}}<p>Welcome!</p>
<p>Your verification code is: <strong>{{.Code}}</strong></p>
<p>This code will expire in 1 hour.</p>{{end}}
{{define "reset"}}<p>You requested a password reset.</p>
<p>Click the link below to reset your password:</p>
<a href="{{.URL}}" target="_blank">{{.URL}}</a>
<p>This link will expire in 10 minutes.</p>{{end}}
{{define "keys-removed"}}<p>Hello {{.Email}},</p>
<p>Your AWS API keys have been <strong>deleted from our system</strong>.</p>
<p>For security purposes, please log in to your AWS account and <strong>deactivate or delete</strong> those keys to prevent any unauthorized access.</p>
<p>If you did not request this change, please contact our support team immediately.</p>{{end}}
{{define "account-deleted"}}<p>Hello {{.Email}},</p>
<p>Your account has been <strong>deleted from our system</strong>.</p>
<p>For security purposes, please log in to your AWS account and <strong>deactivate or delete</strong> any API keys you linked with our service.</p>
<p>If you did not request this action, please contact our support team immediately.</p>{{end}}
`))

// Notifier renders and sends the account notifications.
type Notifier struct {
	sender      Sender
	frontendURL string
}

func NewNotifier(sender Sender, frontendURL string) *Notifier {
	return &Notifier{sender: sender, frontendURL: strings.TrimRight(frontendURL, "/")}
}

func (n *Notifier) send(ctx context.Context, to, subject, tmpl string, data any) error {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, tmpl, data); err != nil {
		return fmt.Errorf("render %s: %w", tmpl, err)
	}
	return n.sender.Send(ctx, Message{To: to, Subject: subject, HTML: body.String()})
}

// SendVerificationCode mails a verification code.
func (n *Notifier) SendVerificationCode(ctx context.Context, to, code string) error {
	return n.send(ctx, to, "Verify Your Email", "verify", map[string]string{"Code": code})
}

// SendPasswordReset mails the reset link built from the frontend URL.
func (n *Notifier) SendPasswordReset(ctx context.Context, to, rawToken string) error {
	url := n.frontendURL + "/reset-password/" + rawToken
	return n.send(ctx, to, "Password Reset Request", "reset", map[string]string{"URL": url})
}

// SendCredentialsRemoved advises the user to revoke the removed AWS keys.
func (n *Notifier) SendCredentialsRemoved(ctx context.Context, to string) error {
	return n.send(ctx, to, "Important: Your AWS Keys Have Been Deleted", "keys-removed", map[string]string{"Email": to})
}

// SendAccountDeleted advises the user to revoke any linked AWS keys.
func (n *Notifier) SendAccountDeleted(ctx context.Context, to string) error {
	return n.send(ctx, to, "Important: Your Account & AWS Keys", "account-deleted", map[string]string{"Email": to})
}
