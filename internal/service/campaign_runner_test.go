package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/service"
	"github.com/unclebandit/mailflow-backend/internal/vault"
)

const (
	testTenant   = 7
	testCampaign = 42
	testOwner    = 3
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func intPtr(i int) *int { return &i }

type runnerFixture struct {
	campaigns *MockCampaignRepo
	customers *MockCustomerRepo
	emails    *MockEmailRepo
	mailer    *MockMailer
	clock     *fakeClock
	runner    *service.CampaignRunner
}

func newRunnerFixture(t *testing.T, steps []model.CampaignStep, leads ...model.CampaignLead) *runnerFixture {
	t.Helper()

	v := vault.New("runner-test-master")
	token, err := v.Encrypt("smtp-password")
	require.NoError(t, err)

	campaign := &model.Campaign{
		ID:        testCampaign,
		TenantID:  testTenant,
		CreatedBy: testOwner,
		Name:      "Spring Launch",
		AccountID: intPtr(5),
		Account: &model.SmtpAccount{
			ID:                5,
			TenantID:          testTenant,
			FromEmail:         "sales@acme.test",
			EncryptedPassword: token,
			SMTPHost:          "smtp.acme.test",
			SMTPPort:          587,
		},
	}

	f := &runnerFixture{
		campaigns: newMockCampaignRepo(campaign, steps, leads...),
		customers: &MockCustomerRepo{contacts: map[string]*model.Contact{}},
		emails:    newMockEmailRepo(),
		mailer:    &MockMailer{},
		clock:     &fakeClock{t: t0},
	}
	f.runner = &service.CampaignRunner{
		CampaignRepo: f.campaigns,
		CustomerRepo: f.customers,
		EmailRepo:    f.emails,
		Vault:        v,
		Mailer:       f.mailer,
		Log:          quietLogger(),
		Now:          f.clock.Now,
	}
	return f
}

func (f *runnerFixture) run(force bool) service.RunResult {
	return f.runner.Run(context.Background(), testCampaign, testTenant, service.RunOptions{Force: force})
}

func emailStep(order int, subject string) model.CampaignStep {
	return model.CampaignStep{StepOrder: order, Type: model.StepTypeEmail, Subject: subject, HTMLBody: "<p>" + subject + "</p>"}
}

func delayStep(order int, seconds *int) model.CampaignStep {
	return model.CampaignStep{StepOrder: order, Type: model.StepTypeDelay, DelaySeconds: seconds}
}

func TestRunStepOrderingRespectsDelay(t *testing.T) {
	f := newRunnerFixture(t,
		[]model.CampaignStep{emailStep(1, "Welcome"), delayStep(2, intPtr(60)), emailStep(3, "Follow up")},
		model.CampaignLead{ID: 1, LeadEmail: "john.doe99@x.com"},
	)

	res := f.run(false)
	require.True(t, res.Success)
	require.Equal(t, 1, res.Sent)
	require.Equal(t, "Processed 1 leads: 1 emails sent, 0 scheduled, 0 completed", res.Message)

	lead := f.campaigns.leads[1]
	require.Equal(t, 1, lead.CurrentStep)
	require.True(t, lead.NextStepDue.Equal(t0.Add(60*time.Second)))
	require.Equal(t, "Next step is delay. Waiting 60s.", f.campaigns.logsOfType(model.LogDelayStarted)[0].Message)

	f.clock.Advance(30 * time.Second)
	res = f.run(false)
	require.True(t, res.Success)
	require.Equal(t, "No leads ready to process", res.Message)
	require.Len(t, f.mailer.deliveries(), 1)

	f.clock.Advance(31 * time.Second)
	res = f.run(false)
	require.Equal(t, 1, res.Sent)
	require.Equal(t, 1, res.Delayed)
	require.Equal(t, 1, res.Completed)

	sent := f.mailer.deliveries()
	require.Len(t, sent, 2)
	require.Equal(t, "Follow up", sent[1].Subject)
	require.Equal(t, model.LeadStatusCompleted, f.campaigns.leads[1].Status)
	require.Equal(t, 2, f.campaigns.sentCount)
}

func TestRunForceSkipsWaitWithoutReplay(t *testing.T) {
	f := newRunnerFixture(t,
		[]model.CampaignStep{emailStep(1, "Welcome"), delayStep(2, intPtr(600)), emailStep(3, "Follow up")},
		model.CampaignLead{ID: 1, LeadEmail: "ann@x.com"},
	)

	require.Equal(t, 1, f.run(false).Sent)

	res := f.run(true)
	require.True(t, res.Success)
	require.Equal(t, 1, res.Sent)
	require.Equal(t, 1, res.Delayed)

	subjects := []string{}
	for _, m := range f.mailer.deliveries() {
		subjects = append(subjects, m.Subject)
	}
	require.Equal(t, []string{"Welcome", "Follow up"}, subjects)
}

func TestRunCompletesExactlyOnce(t *testing.T) {
	f := newRunnerFixture(t,
		[]model.CampaignStep{emailStep(1, "Only")},
		model.CampaignLead{ID: 1, LeadEmail: "ann@x.com", CurrentStep: 1},
	)

	res := f.run(false)
	require.Equal(t, 1, res.Completed)

	for i := 0; i < 3; i++ {
		res = f.run(true)
		require.True(t, res.Success)
		require.Zero(t, res.Completed)
	}

	completed := f.campaigns.logsOfType(model.LogCompleted)
	require.Len(t, completed, 1)
	require.Equal(t, "Campaign completed for this lead", completed[0].Message)
}

func TestRunUndecryptableSecret(t *testing.T) {
	f := newRunnerFixture(t,
		[]model.CampaignStep{emailStep(1, "Welcome")},
		model.CampaignLead{ID: 1, LeadEmail: "a@x.com"},
		model.CampaignLead{ID: 2, LeadEmail: "b@x.com"},
	)
	f.campaigns.campaign.Account.EncryptedPassword = "not-a-token"

	res := f.run(false)
	require.False(t, res.Success)
	require.Zero(t, res.Processed)
	require.Equal(t, "Failed to decrypt account password", res.Error)
	require.Empty(t, f.mailer.deliveries())
	require.Zero(t, f.campaigns.leads[1].CurrentStep)
}

func TestRunIsolatesFailingLead(t *testing.T) {
	f := newRunnerFixture(t,
		[]model.CampaignStep{emailStep(1, "Welcome"), emailStep(2, "Second")},
		model.CampaignLead{ID: 1, LeadEmail: "one@x.com"},
		model.CampaignLead{ID: 2, LeadEmail: "two@x.com"},
		model.CampaignLead{ID: 3, LeadEmail: "three@x.com"},
	)
	f.mailer.fail = failFor("two@x.com", errors.New("550 mailbox unavailable"))
	f.campaigns.steps = f.campaigns.steps[:1]

	res := f.run(false)
	require.True(t, res.Success)
	require.Equal(t, 3, res.Processed)
	require.Equal(t, 2, res.Sent)
	require.Equal(t, 1, res.Errors)

	require.Equal(t, 1, f.campaigns.leads[1].CurrentStep)
	require.Equal(t, 0, f.campaigns.leads[2].CurrentStep)
	require.Equal(t, model.LeadStatusActive, f.campaigns.leads[2].Status)
	require.Equal(t, 1, f.campaigns.leads[3].CurrentStep)

	errs := f.campaigns.logsOfType(model.LogError)
	require.Len(t, errs, 1)
	require.Equal(t, "Error at step 1: 550 mailbox unavailable", errs[0].Message)
	require.Equal(t, 2, *errs[0].LeadID)
	require.Equal(t, 2, f.campaigns.sentCount)
}

func TestRunPersonalizesFromStrictContact(t *testing.T) {
	f := newRunnerFixture(t,
		[]model.CampaignStep{{Type: model.StepTypeEmail, Subject: "Hi {{firstname}}", HTMLBody: "<b>{{Company}}</b> {{promo}}"}},
		model.CampaignLead{ID: 1, LeadEmail: "grace@navy.mil"},
		model.CampaignLead{ID: 2, LeadEmail: "someone.else@navy.mil"},
	)
	f.customers.contacts["grace@navy.mil"] = &model.Contact{ID: 900, TenantID: testTenant, OwnerID: testOwner, Name: "Grace Hopper", Company: "Navy"}
	// Same address under another owner must not be used.
	f.customers.contacts["someone.else@navy.mil"] = &model.Contact{ID: 901, TenantID: testTenant, OwnerID: 99, Name: "Wrong Person"}

	res := f.run(false)
	require.Equal(t, 2, res.Sent)

	sent := f.mailer.deliveries()
	require.Equal(t, "Hi Grace", sent[0].Subject)
	require.Equal(t, "<b>Navy</b> {{promo}}", sent[0].HTML)
	require.Equal(t, "Navy {{promo}}", sent[0].Text)
	require.Equal(t, "Hi Someone", sent[1].Subject)
	require.Equal(t, "Spring Launch", sent[0].From.Name)
	require.Equal(t, "sales@acme.test", sent[0].From.Email)

	require.Len(t, f.customers.interactions, 1)
	in := f.customers.interactions[0]
	require.Equal(t, 900, in.CustomerID)
	require.Equal(t, model.InteractionEmailOutbound, in.Type)
	require.Equal(t, "Campaign Email: Hi Grace", in.Content)
	require.Equal(t, testOwner, in.CreatedBy)

	require.Equal(t, 2, f.emails.count())
	sentLogs := f.campaigns.logsOfType(model.LogEmailSent)
	require.Equal(t, "Sent Step 1: Hi Grace", sentLogs[0].Message)
}

func TestRunSideEffectFailureKeepsLeadAdvanced(t *testing.T) {
	f := newRunnerFixture(t,
		[]model.CampaignStep{emailStep(1, "Welcome"), emailStep(2, "Next")},
		model.CampaignLead{ID: 1, LeadEmail: "ann@x.com"},
	)
	f.emails.copyErr = errors.New("db down")

	res := f.run(false)
	require.True(t, res.Success)
	require.Equal(t, 2, res.Sent)
	require.Zero(t, res.Errors)
	require.Equal(t, 2, f.campaigns.leads[1].CurrentStep)
}

func TestRunDefaultDelay(t *testing.T) {
	f := newRunnerFixture(t,
		[]model.CampaignStep{emailStep(1, "Welcome"), delayStep(2, nil), emailStep(3, "Next")},
		model.CampaignLead{ID: 1, LeadEmail: "ann@x.com"},
	)

	f.run(false)
	require.True(t, f.campaigns.leads[1].NextStepDue.Equal(t0.Add(time.Hour)))
	require.Equal(t, "Next step is delay. Waiting 3600s.", f.campaigns.logsOfType(model.LogDelayStarted)[0].Message)
}

func TestRunStepBudget(t *testing.T) {
	var steps []model.CampaignStep
	for i := 1; i <= 7; i++ {
		steps = append(steps, emailStep(i, "step"))
	}
	f := newRunnerFixture(t, steps, model.CampaignLead{ID: 1, LeadEmail: "ann@x.com"})

	res := f.run(false)
	require.Equal(t, service.MaxStepsPerRun, res.Sent)
	require.Equal(t, service.MaxStepsPerRun, f.campaigns.leads[1].CurrentStep)
}

func TestRunSkipsClaimedLead(t *testing.T) {
	f := newRunnerFixture(t,
		[]model.CampaignStep{emailStep(1, "Welcome")},
		model.CampaignLead{ID: 1, LeadEmail: "a@x.com"},
		model.CampaignLead{ID: 2, LeadEmail: "b@x.com"},
	)
	f.campaigns.heldBy[1] = true

	res := f.run(false)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 1, res.Sent)
	require.Zero(t, f.campaigns.leads[1].CurrentStep)
	require.Equal(t, []int{2}, f.campaigns.released)
}

func TestRunConfigurationErrors(t *testing.T) {
	f := newRunnerFixture(t, []model.CampaignStep{emailStep(1, "x")})
	res := f.runner.Run(context.Background(), 999, testTenant, service.RunOptions{})
	require.False(t, res.Success)
	require.Equal(t, "Campaign not found", res.Error)

	res = f.runner.Run(context.Background(), testCampaign, 8, service.RunOptions{})
	require.Equal(t, "Campaign not found", res.Error)

	f.campaigns.campaign.Account = nil
	res = f.run(false)
	require.Equal(t, "Campaign has no email account configured.", res.Error)

	f = newRunnerFixture(t, nil, model.CampaignLead{ID: 1, LeadEmail: "a@x.com"})
	res = f.run(false)
	require.False(t, res.Success)
	require.Equal(t, "No steps defined for this campaign", res.Error)
}

func TestRunActive(t *testing.T) {
	f := newRunnerFixture(t,
		[]model.CampaignStep{emailStep(1, "Welcome")},
		model.CampaignLead{ID: 1, LeadEmail: "ann@x.com"},
	)

	runs, err := f.runner.RunActive(context.Background())
	require.NoError(t, err)
	require.Empty(t, runs)

	f.campaigns.campaign.Status = model.CampaignStatusActive
	runs, err = f.runner.RunActive(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, testCampaign, runs[0].CampaignID)
	require.Equal(t, "Spring Launch", runs[0].Name)
	require.Equal(t, 1, runs[0].Result.Sent)
}

func TestRunOverlappingRunsSendStepOnce(t *testing.T) {
	f := newRunnerFixture(t,
		[]model.CampaignStep{emailStep(1, "Welcome"), delayStep(2, intPtr(60)), emailStep(3, "Follow up")},
		model.CampaignLead{ID: 1, LeadEmail: "ann@x.com"},
	)

	// A second run starts after the first has selected the lead but before
	// it claims it, and finishes first.
	var second service.RunResult
	f.campaigns.onSelect = func() { second = f.run(false) }

	first := f.run(false)
	require.True(t, first.Success)
	require.True(t, second.Success)
	require.Equal(t, 1, second.Sent)
	require.Zero(t, first.Processed)
	require.Zero(t, first.Sent)

	sent := f.mailer.deliveries()
	require.Len(t, sent, 1)
	require.Equal(t, "Welcome", sent[0].Subject)
	require.Equal(t, 1, f.campaigns.leads[1].CurrentStep)
	require.Empty(t, f.campaigns.claimed)
}

func TestRunStoreFailureHidesDriverDetail(t *testing.T) {
	driverErr := errors.New(`pq: relation "campaign_steps" does not exist`)

	for _, tt := range []struct {
		method string
		want   string
	}{
		{"GetForRun", "Failed to load campaign"},
		{"ListSteps", "Failed to load campaign steps"},
		{"SelectLeads", "Failed to load campaign leads"},
	} {
		t.Run(tt.method, func(t *testing.T) {
			f := newRunnerFixture(t,
				[]model.CampaignStep{emailStep(1, "Welcome")},
				model.CampaignLead{ID: 1, LeadEmail: "ann@x.com"},
			)
			f.campaigns.failOn[tt.method] = driverErr

			res := f.run(false)
			require.False(t, res.Success)
			require.Equal(t, tt.want, res.Error)
			require.NotContains(t, res.Error, "pq:")
			require.Empty(t, f.mailer.deliveries())
		})
	}
}
