package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"
)

// Subject prefix of every mail.
const subjectPrefix = "Deanslist_Connector"

// SMTPConfig configures the mail notifier.
type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	// LogFile is read at send time and included in the body.
	LogFile string `yaml:"log_file"`
	// StartTLS upgrades a plain connection. Otherwise the connection is
	// TLS from the first byte, as port 465 expects.
	StartTLS bool          `yaml:"starttls"`
	Timeout  time.Duration `yaml:"timeout"`
}

type sendFunc func(ctx context.Context, cfg SMTPConfig, msg []byte) error

// SMTP mails the report.
type SMTP struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewSMTP returns a mail notifier.
func NewSMTP(cfg SMTPConfig) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTP{cfg: cfg, send: sendMail}
}

// Notify implements Notifier.
func (s *SMTP) Notify(ctx context.Context, r Report) error {
	return s.send(ctx, s.cfg, s.message(r))
}

// Subject returns the subject line for r.
func Subject(r Report) string {
	if r.Success {
		return subjectPrefix + " - Success"
	}
	return subjectPrefix + " - Error"
}

func (s *SMTP) body(r Report) string {
	logs := s.readLogs()
	var b strings.Builder
	if r.Success {
		b.WriteString("The Deanslist Connector job ran successfully.\n")
	} else {
		b.WriteString("The Deanslist Connector job encountered an error:\n")
	}
	if r.Summary != "" {
		b.WriteString(r.Summary)
		b.WriteString("\n")
	}
	if logs != "" {
		b.WriteString("\n")
		b.WriteString(logs)
	}
	if !r.Success {
		b.WriteString("\n")
		b.WriteString(r.Error)
		b.WriteString("\n")
	}
	return b.String()
}

func (s *SMTP) readLogs() string {
	if s.cfg.LogFile == "" {
		return ""
	}
	b, err := os.ReadFile(s.cfg.LogFile)
	if err != nil {
		return fmt.Sprintf("(log file unavailable: %v)", err)
	}
	return string(b)
}

func (s *SMTP) message(r Report) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(s.cfg.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", Subject(r))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(s.body(r), "\n", "\r\n"))
	return buf.Bytes()
}

func sendMail(ctx context.Context, cfg SMTPConfig, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	tlsCfg := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if cfg.StartTLS {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsCfg}).DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	c, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake failed: %w", err)
	}
	defer c.Close()

	if cfg.StartTLS {
		if err := c.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}
	if cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}
	from := cfg.Username
	if from == "" {
		from = cfg.From
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, to := range cfg.To {
		if err := c.Rcpt(to); err != nil {
			return fmt.Errorf("recipient %s rejected: %w", to, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
