package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/security"
)

// MailConfig configures the mail channel
type MailConfig struct {
	SMTPHost    string `yaml:"smtp_host"`
	SMTPPort    int    `yaml:"smtp_port,omitempty"`
	FromAddress string `yaml:"from_address"`
	ToAddress   string `yaml:"to_address"`
	Password    string `yaml:"password,omitempty"`
	Subject     string `yaml:"subject,omitempty"`

	// Security is tls (implicit TLS, default), starttls or none
	Security string `yaml:"security,omitempty"`
}

// Mail sends each message as a minimal subject plus body mail
type Mail struct {
	cfg     MailConfig
	address string
	timeout time.Duration
}

// NewMail creates a mail channel
func NewMail(cfg MailConfig, timeout time.Duration) (*Mail, error) {
	if cfg.ToAddress == "" {
		return nil, configErr("missing mail to address")
	}
	if cfg.FromAddress == "" {
		return nil, configErr("missing mail from address")
	}
	if cfg.SMTPHost == "" {
		return nil, configErr("missing mail server")
	}
	cfg.Security = strings.ToLower(cfg.Security)
	switch cfg.Security {
	case "":
		cfg.Security = "tls"
	case "tls", "starttls", "none":
	default:
		return nil, configErr("unknown mail security %q", cfg.Security)
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 465
	}
	password, err := security.ResolveSecret(cfg.Password)
	if err != nil {
		return nil, configErr("mail password: %v", err)
	}
	cfg.Password = password
	if cfg.Subject == "" {
		cfg.Subject = "Log Notification"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Mail{
		cfg:     cfg,
		address: net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		timeout: timeout,
	}, nil
}

func (m *Mail) Format() Format { return FormatText }

// message builds the RFC 5322 message
func (m *Mail) message(body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.FromAddress)
	fmt.Fprintf(&b, "To: %s\r\n", m.cfg.ToAddress)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.cfg.Subject)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

func (m *Mail) Send(ctx context.Context, msg string) error {
	deadline := time.Now().Add(m.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := &net.Dialer{Timeout: m.timeout}
	tlsConfig := &tls.Config{ServerName: m.cfg.SMTPHost}

	var conn net.Conn
	var err error
	if m.cfg.Security == "tls" {
		conn, err = tls.DialWithDialer(dialer, "tcp", m.address, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", m.address)
	}
	if err != nil {
		return deliveryErr("mail", err)
	}
	defer conn.Close()
	conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, m.cfg.SMTPHost)
	if err != nil {
		return deliveryErr("mail", err)
	}
	defer client.Close()

	if m.cfg.Security == "starttls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			return deliveryErr("mail", err)
		}
	}

	if m.cfg.Password != "" {
		auth := smtp.PlainAuth("", m.cfg.FromAddress, m.cfg.Password, m.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return deliveryErr("mail", err)
		}
	}

	if err := client.Mail(m.cfg.FromAddress); err != nil {
		return deliveryErr("mail", err)
	}
	for _, rcpt := range strings.Split(m.cfg.ToAddress, ",") {
		if err := client.Rcpt(strings.TrimSpace(rcpt)); err != nil {
			return deliveryErr("mail", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return deliveryErr("mail", err)
	}
	if _, err := w.Write(m.message(msg)); err != nil {
		return deliveryErr("mail", err)
	}
	if err := w.Close(); err != nil {
		return deliveryErr("mail", err)
	}
	if err := client.Quit(); err != nil {
		return deliveryErr("mail", err)
	}
	return nil
}

func (m *Mail) Close() error { return nil }
