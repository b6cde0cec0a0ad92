package ports

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// SMTPSender delivers messages through an outbound relay, typically the
// local MTA. Authentication and onward routing are the relay's concern.
type SMTPSender struct {
	// Addr is the relay's host:port.
	Addr string
}

// NewSMTPSender returns a sender relaying through addr.
func NewSMTPSender(addr string) SMTPSender {
	return SMTPSender{Addr: addr}
}

// Send delivers one message and returns the Message-ID assigned to it. The
// id doubles as the archive thread id for thread-starting messages.
func (s SMTPSender) Send(ctx context.Context, sender, recipient, subject, body, inReplyTo string) (string, []string, error) {
	const op = "ports.SMTPSender.Send"

	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	domain := "apache.org"
	if at := strings.LastIndex(sender, "@"); at >= 0 {
		domain = sender[at+1:]
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", sender)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	if inReplyTo != "" {
		fmt.Fprintf(&msg, "In-Reply-To: %s\r\n", inReplyTo)
		fmt.Fprintf(&msg, "References: %s\r\n", inReplyTo)
	}
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if err := smtp.SendMail(s.Addr, nil, sender, []string{recipient}, []byte(msg.String())); err != nil {
		return "", nil, atrerrors.ExternalWrap(err, op, "smtp delivery failed")
	}
	return messageID, nil, nil
}
