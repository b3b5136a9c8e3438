package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ErrEmptyMessage is returned for a fetch that carried no body.
var ErrEmptyMessage = errors.New("empty message")

// Parse reads an RFC 5322 message into an InboundMessage. UID, folder and
// flags come from the IMAP fetch and are left zero.
func Parse(raw []byte) (*InboundMessage, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyMessage
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	defer mr.Close()

	msg := &InboundMessage{}

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
		msg.FromName = from[0].Name
	}
	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, a := range to {
			msg.To = append(msg.To, Address{Name: a.Name, Address: a.Address})
		}
	}
	msg.Subject, _ = mr.Header.Subject()
	if d, err := mr.Header.Date(); err == nil {
		msg.Date = d
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep what was read before a malformed part.
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(ct, "text/plain") && msg.Text == "":
				msg.Text = string(body)
			case strings.HasPrefix(ct, "text/html") && msg.HTML == "":
				msg.HTML = string(body)
			}
		case *mail.AttachmentHeader:
			msg.AttachmentCount++
		}
	}

	return msg, nil
}
