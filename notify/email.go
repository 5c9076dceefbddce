package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/warp/library-ledger/ledger"
)

// DefaultEmailTimeout bounds one whole SMTP conversation.
const DefaultEmailTimeout = 30 * time.Second

// EmailSender sends plain-text mail through an SMTP relay.
type EmailSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration

	dialer net.Dialer
}

func NewEmailSender(host string, port int, username, password, from string) *EmailSender {
	return &EmailSender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		Timeout:  DefaultEmailTimeout,
	}
}

func (e *EmailSender) Name() string { return "email" }

// Send runs the SMTP conversation under ctx and Timeout, whichever ends
// first. A relay that stops answering fails the send instead of hanging it.
func (e *EmailSender) Send(ctx context.Context, to ledger.Reader, subject, text string) error {
	if to.Email == "" {
		return ErrNoContact
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultEmailTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	conn, err := e.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp %s: %w", addr, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("smtp %s: %w", addr, err)
	}
	// cancellation before the deadline unblocks any pending read or write
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	msg := buildMessage(e.From, to.Email, subject, text, time.Now())
	if err := e.deliver(conn, to.Email, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp %s: %w", addr, ctxErr)
		}
		// the conn deadline can fire a moment before ctx reports it
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("smtp %s: %w", addr, context.DeadlineExceeded)
		}
		return fmt.Errorf("smtp %s: %w", addr, err)
	}
	return nil
}

// deliver is smtp.SendMail over an already dialed connection.
func (e *EmailSender) deliver(conn net.Conn, rcpt string, msg []byte) error {
	c, err := smtp.NewClient(conn, e.Host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.Host}); err != nil {
			return err
		}
	}
	if e.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("server doesn't support AUTH")
		}
		if err := c.Auth(smtp.PlainAuth("", e.Username, e.Password, e.Host)); err != nil {
			return err
		}
	}
	if err := c.Mail(e.From); err != nil {
		return err
	}
	if err := c.Rcpt(rcpt); err != nil {
		return err
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

func buildMessage(from, to, subject, body string, at time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("Date: " + at.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
