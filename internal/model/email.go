// internal/model/email.go
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Email directions, statuses and folders.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	EmailStatusQueued   = "queued"
	EmailStatusSent     = "sent"
	EmailStatusFailed   = "failed"
	EmailStatusReceived = "received"

	FolderInbox = "INBOX"
	FolderSent  = "Sent"
	FolderSENT  = "SENT"
)

type Email struct {
	ID              int        `db:"id" json:"id"`
	TenantID        int        `db:"tenant_id" json:"tenant_id"`
	UserID          *int       `db:"user_id" json:"user_id,omitempty"`
	SMTPAccountID   int        `db:"smtp_account_id" json:"smtp_account_id"`
	UID             *int64     `db:"uid" json:"uid,omitempty"`
	CustomerID      *int       `db:"customer_id" json:"customer_id,omitempty"`
	Direction       string     `db:"direction" json:"direction"`
	Folder          string     `db:"folder" json:"folder"`
	Status          string     `db:"status" json:"status"`
	FromAddress     string     `db:"from_address" json:"from_address"`
	FromName        string     `db:"from_name" json:"from_name"`
	Subject         string     `db:"subject" json:"subject"`
	BodyHTML        string     `db:"body_html" json:"body_html"`
	BodyText        string     `db:"body_text" json:"body_text"`
	RecipientTo     string     `db:"recipient_to" json:"recipient_to"`
	InReplyTo       *string    `db:"in_reply_to" json:"in_reply_to,omitempty"`
	MessageID       *string    `db:"message_id" json:"message_id,omitempty"`
	ProviderResp    *string    `db:"provider_response" json:"provider_response,omitempty"`
	AttachmentCount int        `db:"attachment_count" json:"attachment_count"`
	IsRead          bool       `db:"is_read" json:"is_read"`
	LastError       *string    `db:"last_error" json:"last_error,omitempty"`
	ReceivedAt      *time.Time `db:"received_at" json:"received_at,omitempty"`
	SentAt          *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// Recipient is one entry of the recipient_to JSON column.
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// EncodeRecipients serializes recipients for the recipient_to column.
func EncodeRecipients(rs []Recipient) string {
	if rs == nil {
		rs = []Recipient{}
	}
	b, _ := json.Marshal(rs)
	return string(b)
}

// ParseRecipients normalizes the recipient_to column. Rows written by
// different code paths hold a JSON array of objects or strings, a single
// object, or a legacy comma separated string of addresses.
func ParseRecipients(raw string) ([]Recipient, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, err
		}
		out := make([]Recipient, 0, len(items))
		for _, item := range items {
			r, err := parseRecipientItem(item)
			if err != nil {
				return nil, err
			}
			if r.Email != "" {
				out = append(out, r)
			}
		}
		return out, nil
	case '{', '"':
		r, err := parseRecipientItem(json.RawMessage(raw))
		if err != nil {
			return nil, err
		}
		if r.Email == "" {
			return nil, nil
		}
		return []Recipient{r}, nil
	}

	var out []Recipient
	for _, addr := range strings.Split(raw, ",") {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			out = append(out, Recipient{Email: addr})
		}
	}
	return out, nil
}

func parseRecipientItem(item json.RawMessage) (Recipient, error) {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		return Recipient{Email: strings.TrimSpace(s)}, nil
	}

	// The inbound sync path writes "address", the outbound paths "email".
	var obj struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Address string `json:"address"`
	}
	if err := json.Unmarshal(item, &obj); err != nil {
		return Recipient{}, err
	}
	email := obj.Email
	if email == "" {
		email = obj.Address
	}
	return Recipient{Name: obj.Name, Email: strings.TrimSpace(email)}, nil
}
