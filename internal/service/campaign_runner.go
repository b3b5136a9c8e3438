package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/mailer"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/repository"
)

const (
	// MaxStepsPerRun bounds how far one lead advances in a single run.
	MaxStepsPerRun = 5

	// LeadBatchSize caps the leads selected by a scheduled run.
	LeadBatchSize = 100

	// DefaultDelay applies to delay steps stored without a duration.
	DefaultDelay = time.Hour

	defaultClaimTTL = 10 * time.Minute

	// MsgCampaignNotFound is the run error for an unknown campaign or tenant.
	MsgCampaignNotFound = "Campaign not found"
)

// Store failures are reported to callers without driver detail; the cause
// is logged.
var (
	errLoadCampaign = errors.New("Failed to load campaign")
	errLoadSteps    = errors.New("Failed to load campaign steps")
	errLoadLeads    = errors.New("Failed to load campaign leads")
)

// Decrypter opens stored account secrets.
type Decrypter interface {
	Decrypt(token string) (string, error)
}

type RunOptions struct {
	Force bool
}

type RunResult struct {
	Success   bool   `json:"success"`
	Processed int    `json:"processed"`
	Sent      int    `json:"sent"`
	Delayed   int    `json:"delayed"`
	Completed int    `json:"completed"`
	Errors    int    `json:"errors"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
}

func failedRun(err error) RunResult {
	return RunResult{Success: false, Error: err.Error()}
}

// CampaignRunner advances the leads of a campaign through its steps.
type CampaignRunner struct {
	CampaignRepo repository.CampaignRepositoryInterface
	CustomerRepo repository.CustomerRepositoryInterface
	EmailRepo    repository.EmailRepositoryInterface
	Vault        Decrypter
	Mailer       mailer.Deliverer
	Log          logrus.FieldLogger

	// Now defaults to time.Now.
	Now func() time.Time

	// ClaimTTL is how long a claimed lead is hidden from other runs.
	ClaimTTL time.Duration
}

func (r *CampaignRunner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *CampaignRunner) claimTTL() time.Duration {
	if r.ClaimTTL > 0 {
		return r.ClaimTTL
	}
	return defaultClaimTTL
}

// run holds state shared by every lead of one invocation.
type run struct {
	campaign *model.Campaign
	steps    []model.CampaignStep
	creds    mailer.Credentials
	force    bool
	log      logrus.FieldLogger
	result   RunResult
}

// Run processes one batch of due leads. Configuration problems are reported
// in the result; errors on a single lead are logged against that lead and
// do not stop the batch.
func (r *CampaignRunner) Run(ctx context.Context, campaignID, tenantID int, opts RunOptions) RunResult {
	log := r.Log.WithFields(logrus.Fields{"campaign_id": campaignID, "tenant_id": tenantID, "force": opts.Force})

	campaign, err := r.CampaignRepo.GetForRun(ctx, campaignID, tenantID)
	if err != nil {
		var notFound *appErrors.ErrCampaignNotFound
		if errors.As(err, &notFound) {
			return RunResult{Error: MsgCampaignNotFound}
		}
		log.WithError(err).Error("load campaign failed")
		return failedRun(errLoadCampaign)
	}

	if campaign.Account == nil || campaign.Account.SMTPHost == "" {
		return failedRun(appErrors.ErrAccountNotConfigured)
	}

	steps, err := r.CampaignRepo.ListSteps(ctx, campaignID)
	if err != nil {
		log.WithError(err).Error("load steps failed")
		return failedRun(errLoadSteps)
	}
	if len(steps) == 0 {
		return failedRun(appErrors.ErrNoSteps)
	}

	limit := LeadBatchSize
	if opts.Force {
		limit = 0
	}
	leads, err := r.CampaignRepo.SelectLeads(ctx, campaignID, opts.Force, limit, r.now())
	if err != nil {
		log.WithError(err).Error("select leads failed")
		return failedRun(errLoadLeads)
	}
	if len(leads) == 0 {
		return RunResult{Success: true, Message: "No leads ready to process"}
	}

	password, err := r.Vault.Decrypt(campaign.Account.EncryptedPassword)
	if err != nil {
		log.WithField("account_id", campaign.Account.ID).WithError(err).Error("decrypt account secret failed")
		return failedRun(appErrors.ErrCredential)
	}

	st := &run{
		campaign: campaign,
		steps:    steps,
		force:    opts.Force,
		log:      log,
		creds: mailer.Credentials{
			Host:     campaign.Account.SMTPHost,
			Port:     campaign.Account.SMTPPort,
			Username: campaign.Account.Login(),
			Password: password,
		},
	}

	for i := range leads {
		r.processLead(ctx, st, &leads[i])
	}

	if st.result.Sent > 0 {
		if err := r.CampaignRepo.AddSentCount(ctx, campaignID, st.result.Sent); err != nil {
			log.WithError(err).Error("update sent count failed")
		}
	}

	res := st.result
	res.Success = true
	res.Message = fmt.Sprintf("Processed %d leads: %d emails sent, %d scheduled, %d completed",
		res.Processed, res.Sent, res.Delayed, res.Completed)
	log.Info(res.Message)
	return res
}

// ScheduledRun is the outcome of one campaign in a scheduler pass.
type ScheduledRun struct {
	CampaignID int       `json:"id"`
	TenantID   int       `json:"tenant_id"`
	Name       string    `json:"campaign"`
	Result     RunResult `json:"result"`
}

// RunActive runs every active campaign once, in id order.
func (r *CampaignRunner) RunActive(ctx context.Context) ([]ScheduledRun, error) {
	campaigns, err := r.CampaignRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}

	runs := make([]ScheduledRun, 0, len(campaigns))
	for _, c := range campaigns {
		runs = append(runs, ScheduledRun{
			CampaignID: c.ID,
			TenantID:   c.TenantID,
			Name:       c.Name,
			Result:     r.Run(ctx, c.ID, c.TenantID, RunOptions{}),
		})
	}
	r.Log.WithField("campaigns", len(runs)).Info("scheduled campaign pass finished")
	return runs, nil
}

func (r *CampaignRunner) processLead(ctx context.Context, st *run, lead *model.CampaignLead) {
	log := st.log.WithField("lead_id", lead.ID)

	now := r.now()
	claimed, err := r.CampaignRepo.ClaimLead(ctx, lead.ID, lead.CurrentStep, now, now.Add(r.claimTTL()))
	if err != nil {
		log.WithError(err).Error("claim lead failed")
		st.result.Errors++
		return
	}
	if !claimed {
		log.Debug("lead claimed or advanced by another run, skipping")
		return
	}
	defer func() {
		if err := r.CampaignRepo.ReleaseLead(ctx, lead.ID); err != nil {
			log.WithError(err).Warn("release lead failed")
		}
	}()

	st.result.Processed++

	current := lead.CurrentStep
	nextDue := now
	if lead.NextStepDue != nil {
		nextDue = *lead.NextStepDue
	}

	for taken := 0; taken < MaxStepsPerRun; taken++ {
		if !st.force && nextDue.After(r.now()) {
			return
		}

		if current >= len(st.steps) {
			r.completeLead(ctx, st, lead, log)
			return
		}

		if err := r.executeStep(ctx, st, lead, current); err != nil {
			log.WithError(err).WithField("step", current+1).Error("campaign step failed")
			r.logEvent(ctx, st, lead.ID, model.LogError, fmt.Sprintf("Error at step %d: %s", current+1, err.Error()))
			metricCampaignSteps.WithLabelValues("error").Inc()
			st.result.Errors++
			return
		}

		next := current + 1
		wait := time.Duration(0)
		if next < len(st.steps) && st.steps[next].Type == model.StepTypeDelay {
			wait = delayOf(st.steps[next])
		}

		due := r.now().Add(wait)
		if err := r.CampaignRepo.AdvanceLead(ctx, lead.ID, next, due); err != nil {
			log.WithError(err).WithField("step", current+1).Error("advance lead failed")
			r.logEvent(ctx, st, lead.ID, model.LogError, fmt.Sprintf("Error at step %d: %s", current+1, err.Error()))
			metricCampaignSteps.WithLabelValues("error").Inc()
			st.result.Errors++
			return
		}
		if wait > 0 {
			r.logEvent(ctx, st, lead.ID, model.LogDelayStarted,
				fmt.Sprintf("Next step is delay. Waiting %ds.", int(wait/time.Second)))
		}

		current = next
		nextDue = due
	}
}

func (r *CampaignRunner) completeLead(ctx context.Context, st *run, lead *model.CampaignLead, log logrus.FieldLogger) {
	if err := r.CampaignRepo.CompleteLead(ctx, lead.ID); err != nil {
		log.WithError(err).Error("complete lead failed")
		st.result.Errors++
		return
	}
	r.logEvent(ctx, st, lead.ID, model.LogCompleted, "Campaign completed for this lead")
	metricCampaignSteps.WithLabelValues("completed").Inc()
	st.result.Completed++
}

func (r *CampaignRunner) executeStep(ctx context.Context, st *run, lead *model.CampaignLead, index int) error {
	step := st.steps[index]

	switch step.Type {
	case model.StepTypeEmail:
		return r.sendStep(ctx, st, lead, index, step)
	case model.StepTypeDelay:
		r.logEvent(ctx, st, lead.ID, model.LogDelayProcessed, fmt.Sprintf("Finished waiting for Step %d", index+1))
		metricCampaignSteps.WithLabelValues("delayed").Inc()
		st.result.Delayed++
		return nil
	}
	return fmt.Errorf("unknown step type %q", step.Type)
}

func (r *CampaignRunner) sendStep(ctx context.Context, st *run, lead *model.CampaignLead, index int, step model.CampaignStep) error {
	c := st.campaign

	contact, err := r.CustomerRepo.FindStrict(ctx, lead.LeadEmail, c.TenantID, c.OwnerID())
	if err != nil {
		// Personalization falls back to the address heuristic.
		st.log.WithField("lead_id", lead.ID).WithError(err).Warn("contact lookup failed")
		contact = nil
	}

	vars := BuildVariables(lead.LeadEmail, contact)
	subject := Render(step.Subject, vars)
	html := Render(step.HTMLBody, vars)
	text := StripTags(html)

	msg := mailer.Message{
		From:    mailer.Address{Name: c.Name, Email: c.Account.FromEmail},
		To:      []mailer.Address{{Email: lead.LeadEmail}},
		Subject: subject,
		HTML:    html,
		Text:    text,
	}

	start := time.Now()
	_, err = r.Mailer.Deliver(ctx, st.creds, msg)
	observeDelivery("runner", time.Since(start).Seconds(), err)
	if err != nil {
		return err
	}

	r.logEvent(ctx, st, lead.ID, model.LogEmailSent, fmt.Sprintf("Sent Step %d: %s", index+1, subject))
	metricCampaignSteps.WithLabelValues("sent").Inc()
	st.result.Sent++

	r.recordSent(ctx, st, lead, contact, subject, html, text)
	return nil
}

// recordSent copies a delivered campaign email into the CRM. Failures are
// logged only; the email has already gone out.
func (r *CampaignRunner) recordSent(ctx context.Context, st *run, lead *model.CampaignLead, contact *model.Contact, subject, html, text string) {
	c := st.campaign
	log := st.log.WithField("lead_id", lead.ID)
	owner := c.OwnerID()

	localPart := lead.LeadEmail
	if at := strings.Index(localPart, "@"); at >= 0 {
		localPart = localPart[:at]
	}

	email := &model.Email{
		TenantID:      c.TenantID,
		UserID:        &owner,
		SMTPAccountID: c.Account.ID,
		FromAddress:   c.Account.FromEmail,
		FromName:      c.Name,
		Subject:       subject,
		BodyHTML:      html,
		BodyText:      text,
		RecipientTo:   model.EncodeRecipients([]model.Recipient{{Name: localPart, Email: lead.LeadEmail}}),
	}
	if contact != nil {
		email.CustomerID = &contact.ID
	}
	if err := r.EmailRepo.InsertCampaignCopy(ctx, email); err != nil {
		log.WithError(err).Error("store campaign email copy failed")
	}

	if contact == nil {
		return
	}
	interaction := &model.Interaction{
		TenantID:   c.TenantID,
		CustomerID: contact.ID,
		Type:       model.InteractionEmailOutbound,
		Content:    "Campaign Email: " + subject,
		CreatedBy:  owner,
	}
	if err := r.CustomerRepo.CreateInteraction(ctx, interaction); err != nil {
		log.WithError(err).Error("record interaction failed")
	}
}

func (r *CampaignRunner) logEvent(ctx context.Context, st *run, leadID int, logType, message string) {
	if err := r.CampaignRepo.InsertLog(ctx, st.campaign.ID, &leadID, logType, message); err != nil {
		st.log.WithFields(logrus.Fields{"lead_id": leadID, "type": logType}).WithError(err).Error("write campaign log failed")
	}
}

func delayOf(step model.CampaignStep) time.Duration {
	if step.DelaySeconds == nil || *step.DelaySeconds <= 0 {
		return DefaultDelay
	}
	return time.Duration(*step.DelaySeconds) * time.Second
}
