// Package mailer delivers composed messages over SMTP. The campaign runner
// calls it inline and the send worker calls it from the queue, so retry
// policy stays with the caller.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Address is a display name plus mailbox.
type Address struct {
	Name  string
	Email string
}

// Message is one outbound email.
type Message struct {
	From       Address
	To         []Address
	Subject    string
	HTML       string
	Text       string
	InReplyTo  string
	References string
}

// Credentials identify the SMTP endpoint and login used for one delivery.
type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Receipt describes an accepted delivery.
type Receipt struct {
	MessageID string
	Response  string
}

// Deliverer sends a message.
type Deliverer interface {
	Deliver(ctx context.Context, creds Credentials, msg Message) (*Receipt, error)
}

// Compose renders msg as an RFC 5322 message with a multipart/alternative
// body and returns it with its generated Message-ID.
func Compose(msg Message, now time.Time) ([]byte, string, error) {
	if len(msg.To) == 0 {
		return nil, "", fmt.Errorf("compose: no recipients")
	}

	var h mail.Header
	h.SetDate(now)
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Name: msg.From.Name, Address: msg.From.Email}})

	to := make([]*mail.Address, 0, len(msg.To))
	for _, a := range msg.To {
		to = append(to, &mail.Address{Name: a.Name, Address: a.Email})
	}
	h.SetAddressList("To", to)

	messageID := uuid.NewString() + "@" + domainOf(msg.From.Email)
	h.SetMessageID(messageID)

	if msg.InReplyTo != "" {
		h.Set("In-Reply-To", msg.InReplyTo)
		refs := msg.References
		if refs == "" {
			refs = msg.InReplyTo
		}
		h.Set("References", refs)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("compose: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, "", fmt.Errorf("compose: %w", err)
	}

	if err := writeInline(tw, "text/plain", msg.Text); err != nil {
		return nil, "", err
	}
	if msg.HTML != "" {
		if err := writeInline(tw, "text/html", msg.HTML); err != nil {
			return nil, "", err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, "", fmt.Errorf("compose: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("compose: %w", err)
	}

	return buf.Bytes(), "<" + messageID + ">", nil
}

func writeInline(tw *mail.InlineWriter, contentType, body string) error {
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	w, err := tw.CreatePart(ih)
	if err != nil {
		return fmt.Errorf("compose %s: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("compose %s: %w", contentType, err)
	}
	return w.Close()
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
