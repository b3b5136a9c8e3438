// Package mailbox reads recent messages from IMAP mailboxes.
package mailbox

import (
	"context"
	"time"
)

// SentFolders lists the names tried, in order, for the sent mailbox.
var SentFolders = []string{"Sent", "Sent Items", "INBOX.Sent"}

// Credentials for an IMAP login. Password is plaintext and must not be logged.
type Credentials struct {
	Host     string
	Port     int
	Secure   bool
	Username string
	Password string
}

// InboundMessage is a parsed message from a synced mailbox.
type InboundMessage struct {
	UID             int64
	Folder          string
	From            string
	FromName        string
	To              []Address
	Subject         string
	Text            string
	HTML            string
	Date            time.Time
	AttachmentCount int
	IsRead          bool
}

// Address of a recipient, serialized the way synced rows store it.
type Address struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Fetcher pulls the most recent messages of the inbox and the sent folder.
type Fetcher interface {
	FetchRecent(ctx context.Context, creds Credentials, window int) ([]InboundMessage, error)
}
