// internal/handler/campaign_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/logger"
	"github.com/unclebandit/mailflow-backend/internal/service"
)

// CampaignRunner is the part of service.CampaignRunner the handlers use.
type CampaignRunner interface {
	Run(ctx context.Context, campaignID, tenantID int, opts service.RunOptions) service.RunResult
	RunActive(ctx context.Context) ([]service.ScheduledRun, error)
}

// CampaignHandler holds the dependencies for campaign-related HTTP handlers
type CampaignHandler struct {
	Runner CampaignRunner
	Log    logrus.FieldLogger
}

// NewCampaignHandler creates a new CampaignHandler with the given runner
func NewCampaignHandler(runner CampaignRunner, log logrus.FieldLogger) *CampaignHandler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &CampaignHandler{
		Runner: runner,
		Log:    log,
	}
}

// RunCampaignHandler runs one batch of a campaign now.
// POST /campaigns/{id}/run?tenant_id=&force=
func (h *CampaignHandler) RunCampaignHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	tenantID, err := strconv.Atoi(r.URL.Query().Get("tenant_id"))
	if err != nil {
		http.Error(w, "invalid tenant_id", http.StatusBadRequest)
		return
	}

	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	res := h.Runner.Run(r.Context(), id, tenantID, service.RunOptions{Force: force})

	status := http.StatusOK
	if !res.Success {
		status = runFailureStatus(res.Error)
	}
	writeJSON(w, status, res)
}

// RunDueHandler runs every active campaign once.
// POST /campaigns/run-due
func (h *CampaignHandler) RunDueHandler(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Runner.RunActive(r.Context())
	if err != nil {
		h.Log.WithError(err).Error("scheduled run failed")
		http.Error(w, "failed to run campaigns", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":             true,
		"campaigns_processed": len(runs),
		"details":             runs,
	})
}

func runFailureStatus(msg string) int {
	switch msg {
	case service.MsgCampaignNotFound:
		return http.StatusNotFound
	case appErrors.ErrAccountNotConfigured.Error(), appErrors.ErrNoSteps.Error(), appErrors.ErrCredential.Error():
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
