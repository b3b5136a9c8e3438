package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// DefaultImplicitTLSPort is the submission port that expects TLS from the
// first byte. Every other port must upgrade with STARTTLS.
const DefaultImplicitTLSPort = 465

// SMTPDeliverer delivers messages with username/password authentication.
type SMTPDeliverer struct {
	// Timeout bounds dialing and each SMTP command. Zero means 30s.
	Timeout time.Duration

	// TLSConfig overrides the TLS settings; ServerName is filled in per host.
	TLSConfig *tls.Config

	// Now is the clock used for the Date header.
	Now func() time.Time

	// ImplicitTLSPort overrides DefaultImplicitTLSPort.
	ImplicitTLSPort int
}

func (d *SMTPDeliverer) implicitTLSPort() int {
	if d.ImplicitTLSPort > 0 {
		return d.ImplicitTLSPort
	}
	return DefaultImplicitTLSPort
}

func (d *SMTPDeliverer) timeout() time.Duration {
	if d.Timeout <= 0 {
		return 30 * time.Second
	}
	return d.Timeout
}

func (d *SMTPDeliverer) tlsConfig(host string) *tls.Config {
	cfg := &tls.Config{}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// Deliver composes msg and submits it to the account's SMTP server.
func (d *SMTPDeliverer) Deliver(ctx context.Context, creds Credentials, msg Message) (*Receipt, error) {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	raw, messageID, err := Compose(msg, now())
	if err != nil {
		return nil, err
	}

	c, err := d.dial(ctx, creds)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if creds.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", creds.Username, creds.Password)); err != nil {
			return nil, fmt.Errorf("smtp auth as %s: %w", creds.Username, err)
		}
	}

	to := make([]string, 0, len(msg.To))
	for _, a := range msg.To {
		to = append(to, a.Email)
	}

	if err := c.SendMail(msg.From.Email, to, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("smtp send: %w", err)
	}

	if err := c.Quit(); err != nil {
		// The server has already accepted the message at this point.
		return &Receipt{MessageID: messageID, Response: "accepted; quit failed: " + err.Error()}, nil
	}

	return &Receipt{
		MessageID: messageID,
		Response:  fmt.Sprintf("250 accepted for %d recipient(s)", len(to)),
	}, nil
}

func (d *SMTPDeliverer) dial(ctx context.Context, creds Credentials) (*smtp.Client, error) {
	addr := net.JoinHostPort(creds.Host, strconv.Itoa(creds.Port))
	dialer := &net.Dialer{Timeout: d.timeout()}
	tlsConfig := d.tlsConfig(creds.Host)

	if creds.Port == d.implicitTLSPort() {
		td := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err := td.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to SMTP %s: %w", addr, err)
		}

		c := smtp.NewClient(conn)
		d.applyTimeouts(c)
		if err := c.Hello("localhost"); err != nil {
			c.Close()
			return nil, fmt.Errorf("smtp hello %s: %w", addr, err)
		}
		return c, nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to SMTP %s: %w", addr, err)
	}

	// NewClientStartTLS greets the server and upgrades before returning.
	c, err := smtp.NewClientStartTLS(conn, tlsConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp starttls %s: %w", addr, err)
	}
	d.applyTimeouts(c)
	return c, nil
}

func (d *SMTPDeliverer) applyTimeouts(c *smtp.Client) {
	c.CommandTimeout = d.timeout()
	c.SubmissionTimeout = d.timeout()
}

var _ Deliverer = (*SMTPDeliverer)(nil)
