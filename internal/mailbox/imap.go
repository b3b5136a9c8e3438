package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/sirupsen/logrus"
)

// IMAPFetcher implements Fetcher with go-imap. Mailboxes are selected
// read-only and bodies fetched with PEEK so the seen flag is left alone.
type IMAPFetcher struct {
	DialTimeout time.Duration
	TLSConfig   *tls.Config
	Log         logrus.FieldLogger
}

func (f *IMAPFetcher) dial(ctx context.Context, creds Credentials) (*imapclient.Client, error) {
	addr := net.JoinHostPort(creds.Host, strconv.Itoa(creds.Port))
	timeout := f.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}

	tlsConfig := f.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{ServerName: creds.Host}
	}
	opts := &imapclient.Options{TLSConfig: tlsConfig}

	if creds.Secure {
		td := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err := td.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
		return imapclient.New(conn, opts), nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	client, err := imapclient.NewStartTLS(conn, opts)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("starttls with %s: %w", addr, err)
	}
	return client, nil
}

// FetchRecent logs in, reads the last window messages of INBOX and of the
// first sent folder that exists. Sent messages are reported under "Sent".
func (f *IMAPFetcher) FetchRecent(ctx context.Context, creds Credentials, window int) ([]InboundMessage, error) {
	client, err := f.dial(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.Login(creds.Username, creds.Password).Wait(); err != nil {
		return nil, fmt.Errorf("authentication failed for %s: %w", creds.Username, err)
	}
	defer func() { _ = client.Logout().Wait() }()

	msgs, err := f.fetchFolder(client, "INBOX", "INBOX", window)
	if err != nil {
		return nil, err
	}

	for _, name := range SentFolders {
		sent, err := f.fetchFolder(client, name, SentFolders[0], window)
		if err != nil {
			if f.Log != nil {
				f.Log.WithField("folder", name).WithError(err).Debug("sent folder unavailable")
			}
			continue
		}
		msgs = append(msgs, sent...)
		break
	}

	return msgs, nil
}

func (f *IMAPFetcher) fetchFolder(client *imapclient.Client, name, label string, window int) ([]InboundMessage, error) {
	box, err := client.Select(name, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", name, err)
	}
	if box.NumMessages == 0 {
		return nil, nil
	}

	start, stop := windowRange(box.NumMessages, window)
	var seq imap.SeqSet
	seq.AddRange(start, stop)

	section := &imap.FetchItemBodySection{Peek: true}
	cmd := client.Fetch(seq, &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	})

	var out []InboundMessage
	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		parsed, err := Parse(buf.FindBodySection(section))
		if err != nil {
			if f.Log != nil {
				f.Log.WithFields(logrus.Fields{"folder": name, "uid": buf.UID}).WithError(err).Warn("skipping unparsable message")
			}
			continue
		}

		parsed.UID = int64(buf.UID)
		parsed.Folder = label
		parsed.IsRead = hasFlag(buf.Flags, imap.FlagSeen)
		if parsed.Date.IsZero() {
			parsed.Date = buf.InternalDate
		}
		out = append(out, *parsed)
	}

	if err := cmd.Close(); err != nil {
		return out, fmt.Errorf("fetching %s: %w", name, err)
	}
	return out, nil
}

// windowRange returns the sequence range of the last window messages.
func windowRange(total uint32, window int) (uint32, uint32) {
	if window <= 0 || uint32(window) >= total {
		return 1, total
	}
	return total - uint32(window) + 1, total
}

func hasFlag(flags []imap.Flag, want imap.Flag) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

var _ Fetcher = (*IMAPFetcher)(nil)
