package channels

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"math/rand"
	"mime"
	"net/smtp"
	"os"
	"strings"
	"time"

	"omnibox/utils"
)

// SMTPClient handles email sending
type SMTPClient struct {
	server   string
	port     int
	starttls bool
	username string
	from     string
	password string
}

// NewSMTPClient creates a new SMTP client
func NewSMTPClient(server string, port int, starttls bool, username, from, password string) *SMTPClient {
	return &SMTPClient{
		server:   server,
		port:     port,
		starttls: starttls,
		username: username,
		from:     from,
		password: password,
	}
}

// Reply sends a plain-text reply. inReplyTo, when set, becomes both the
// In-Reply-To and References header.
func (c *SMTPClient) Reply(to, subject, body, inReplyTo string) error {
	utils.Log.Debug("Connecting to %s:%d as %s", c.server, c.port, c.username)

	client, err := c.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	// Authenticate after TLS
	auth := smtp.PlainAuth("", c.username, c.password, c.server)
	if err = client.Auth(auth); err != nil {
		return fmt.Errorf("auth failed: %w", err)
	}

	// Set sender
	if err = client.Mail(c.from); err != nil {
		return fmt.Errorf("mail from failed: %w", err)
	}

	// Set recipient
	if err = client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to failed: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("data failed: %w", err)
	}
	if _, err := writer.Write(buildReply(c.from, to, subject, body, inReplyTo, time.Now())); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("data close failed: %w", err)
	}

	return client.Quit()
}

func (c *SMTPClient) dial() (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.server, c.port)
	tlsConfig := &tls.Config{ServerName: c.server}

	if !c.starttls {
		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("dial failed: %w", err)
		}
		client, err := smtp.NewClient(conn, c.server)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("smtp handshake failed: %w", err)
		}
		return client, nil
	}

	client, err := smtp.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	if err := client.Hello(domainOf(c.from)); err != nil {
		client.Close()
		return nil, fmt.Errorf("hello failed: %w", err)
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		client.Close()
		return nil, fmt.Errorf("starttls failed: %w", err)
	}
	return client, nil
}

// headerLineBreaks drops CR and LF so a value cannot start a new header line.
var headerLineBreaks = strings.NewReplacer("\r", "", "\n", "")

// buildReply renders the headers and body of a text/plain reply.
func buildReply(from, to, subject, body, inReplyTo string, now time.Time) []byte {
	var buf bytes.Buffer

	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, headerLineBreaks.Replace(v))
	}
	header("Date", now.Format(time.RFC1123Z))
	header("From", from)
	header("To", to)
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Message-ID", fmt.Sprintf("<%s@%s>", generateMessageID(now), domainOf(from)))
	if inReplyTo != "" {
		header("In-Reply-To", inReplyTo)
		header("References", inReplyTo)
	}
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=\"utf-8\"")
	buf.WriteString("\r\n")

	body = strings.ReplaceAll(body, "\r\n", "\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// generateMessageID creates a unique Message-ID for the email
func generateMessageID(now time.Time) string {
	return fmt.Sprintf("%d.%d.%d",
		now.UnixNano(),
		os.Getpid(),
		rand.Int63())
}

func domainOf(address string) string {
	if i := strings.LastIndexByte(address, '@'); i >= 0 {
		return address[i+1:]
	}
	return "localhost"
}
