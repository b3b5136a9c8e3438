// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAccountNotConfigured is returned when a campaign has no usable
	// sending account.
	ErrAccountNotConfigured = errors.New("Campaign has no email account configured.")

	// ErrNoSteps is returned when a campaign has no steps to execute.
	ErrNoSteps = errors.New("No steps defined for this campaign")

	// ErrCredential marks a stored secret that cannot be decrypted. It is
	// never worth retrying until an operator re-enters the secret.
	ErrCredential = errors.New("Failed to decrypt account password")

	// ErrPermanent marks a job failure that a retry will not fix.
	ErrPermanent = errors.New("permanent failure")

	// ErrInvalidRequest wraps caller input that fails validation.
	ErrInvalidRequest = errors.New("invalid request")
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrEmailNotFound struct {
	EmailID int
}

func (e *ErrEmailNotFound) Error() string {
	return fmt.Sprintf("email with ID %d not found", e.EmailID)
}

func NewEmailNotFound(id int) error {
	return &ErrEmailNotFound{EmailID: id}
}

type ErrAccountNotFound struct {
	AccountID int
}

func (e *ErrAccountNotFound) Error() string {
	return fmt.Sprintf("smtp account with ID %d not found", e.AccountID)
}

func NewAccountNotFound(id int) error {
	return &ErrAccountNotFound{AccountID: id}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{e.err, ErrPermanent} }

// Permanent wraps err so that IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) || errors.Is(err, ErrCredential)
}

// HTTPStatus maps err to the status code returned by the API.
func HTTPStatus(err error) int {
	var (
		campaignNF *ErrCampaignNotFound
		emailNF    *ErrEmailNotFound
		accountNF  *ErrAccountNotFound
	)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.As(err, &campaignNF), errors.As(err, &emailNF), errors.As(err, &accountNF):
		return http.StatusNotFound
	case errors.Is(err, ErrAccountNotConfigured), errors.Is(err, ErrNoSteps), errors.Is(err, ErrCredential):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
