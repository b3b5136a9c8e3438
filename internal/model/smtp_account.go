// internal/model/smtp_account.go
package model

import "time"

type SmtpAccount struct {
	ID                    int        `db:"id" json:"id"`
	TenantID              int        `db:"tenant_id" json:"tenant_id"`
	CreatedBy             int        `db:"created_by" json:"created_by"`
	FromName              string     `db:"from_name" json:"from_name"`
	FromEmail             string     `db:"from_email" json:"from_email"`
	Username              string     `db:"username" json:"username"`
	EncryptedPassword     string     `db:"encrypted_password" json:"-"`
	SMTPHost              string     `db:"smtp_host" json:"smtp_host"`
	SMTPPort              int        `db:"smtp_port" json:"smtp_port"`
	IMAPHost              *string    `db:"imap_host" json:"imap_host,omitempty"`
	IMAPPort              *int       `db:"imap_port" json:"imap_port,omitempty"`
	IMAPSecure            bool       `db:"imap_secure" json:"imap_secure"`
	IMAPUsername          *string    `db:"imap_username" json:"imap_username,omitempty"`
	IMAPEncryptedPassword *string    `db:"imap_encrypted_password" json:"-"`
	IsActive              bool       `db:"is_active" json:"is_active"`
	LastSyncAt            *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
}

// Login returns the SMTP login, falling back to the sender address.
func (a *SmtpAccount) Login() string {
	if a.Username != "" {
		return a.Username
	}
	return a.FromEmail
}

// IMAPLogin returns the IMAP login, falling back to the SMTP login.
func (a *SmtpAccount) IMAPLogin() string {
	if a.IMAPUsername != nil && *a.IMAPUsername != "" {
		return *a.IMAPUsername
	}
	return a.Login()
}

// IMAPSecret returns the encrypted IMAP secret, falling back to the SMTP one.
func (a *SmtpAccount) IMAPSecret() string {
	if a.IMAPEncryptedPassword != nil && *a.IMAPEncryptedPassword != "" {
		return *a.IMAPEncryptedPassword
	}
	return a.EncryptedPassword
}

// IMAPAddress returns host and port for the receive side, defaulting to 993.
func (a *SmtpAccount) IMAPAddress() (string, int) {
	host := ""
	if a.IMAPHost != nil {
		host = *a.IMAPHost
	}
	port := 993
	if a.IMAPPort != nil && *a.IMAPPort > 0 {
		port = *a.IMAPPort
	}
	return host, port
}
