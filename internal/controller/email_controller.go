// internal/controller/email_controller.go
package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/service"
)

type EmailEnqueuer interface {
	Enqueue(ctx context.Context, req service.SendRequest) (*model.Email, error)
}

type AccountSyncer interface {
	SyncAccount(ctx context.Context, accountID int) (*service.AccountSync, error)
	SyncAll(ctx context.Context) (*service.SyncReport, error)
}

type EmailController struct {
	EmailService EmailEnqueuer
	Sync         AccountSyncer
	Log          logrus.FieldLogger
}

// SendEmail queues a one-off email.
func (c *EmailController) SendEmail(w http.ResponseWriter, r *http.Request) {
	var body service.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	email, err := c.EmailService.Enqueue(r.Context(), body)
	if err != nil {
		c.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"email_id": email.ID,
		"status":   email.Status,
	})
}

// SyncAccount pulls recent mail for one account.
func (c *EmailController) SyncAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}

	res, err := c.Sync.SyncAccount(r.Context(), id)
	if err != nil {
		c.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// SyncAll pulls recent mail for every syncable account.
func (c *EmailController) SyncAll(w http.ResponseWriter, r *http.Request) {
	report, err := c.Sync.SyncAll(r.Context())
	if err != nil {
		c.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (c *EmailController) fail(w http.ResponseWriter, err error) {
	status := appErrors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		c.Log.WithError(err).Error("request failed")
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
