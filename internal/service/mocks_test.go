package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/mailbox"
	"github.com/unclebandit/mailflow-backend/internal/mailer"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/queue"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeClock is advanced by hand.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// --- Mock Repositories ---

type MockCampaignRepo struct {
	campaign *model.Campaign
	steps    []model.CampaignStep
	leads    map[int]*model.CampaignLead
	logs     []model.CampaignLog

	sentCount int
	heldBy    map[int]bool // leads claimed by another run
	claimed   map[int]bool
	released  []int

	// onSelect runs once, after SelectLeads has taken its snapshot.
	onSelect func()
	failOn   map[string]error
}

func newMockCampaignRepo(c *model.Campaign, steps []model.CampaignStep, leads ...model.CampaignLead) *MockCampaignRepo {
	m := &MockCampaignRepo{
		campaign: c,
		steps:    steps,
		leads:    map[int]*model.CampaignLead{},
		heldBy:   map[int]bool{},
		claimed:  map[int]bool{},
		failOn:   map[string]error{},
	}
	for i := range leads {
		l := leads[i]
		if l.Status == "" {
			l.Status = model.LeadStatusActive
		}
		l.CampaignID = c.ID
		m.leads[l.ID] = &l
	}
	return m
}

func (m *MockCampaignRepo) GetForRun(_ context.Context, campaignID, tenantID int) (*model.Campaign, error) {
	if err := m.failOn["GetForRun"]; err != nil {
		return nil, err
	}
	if m.campaign == nil || m.campaign.ID != campaignID || m.campaign.TenantID != tenantID {
		return nil, appErrors.NewCampaignNotFound(campaignID)
	}
	c := *m.campaign
	return &c, nil
}

func (m *MockCampaignRepo) ListActive(context.Context) ([]model.Campaign, error) {
	if m.campaign == nil || m.campaign.Status != model.CampaignStatusActive {
		return []model.Campaign{}, nil
	}
	return []model.Campaign{*m.campaign}, nil
}

func (m *MockCampaignRepo) ListSteps(context.Context, int) ([]model.CampaignStep, error) {
	if err := m.failOn["ListSteps"]; err != nil {
		return nil, err
	}
	return m.steps, nil
}

func (m *MockCampaignRepo) AddSentCount(_ context.Context, _ int, n int) error {
	m.sentCount += n
	return nil
}

func (m *MockCampaignRepo) SelectLeads(_ context.Context, _ int, force bool, limit int, now time.Time) ([]model.CampaignLead, error) {
	if err := m.failOn["SelectLeads"]; err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(m.leads))
	for id := range m.leads {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := []model.CampaignLead{}
	for _, id := range ids {
		l := m.leads[id]
		if l.Status != model.LeadStatusActive {
			continue
		}
		if !force && l.CurrentStep != 0 && l.NextStepDue != nil && l.NextStepDue.After(now) {
			continue
		}
		out = append(out, *l)
		if !force && limit > 0 && len(out) == limit {
			break
		}
	}

	if hook := m.onSelect; hook != nil {
		m.onSelect = nil
		hook()
	}
	return out, nil
}

// ClaimLead behaves like the conditional update: the lead must be active,
// unclaimed and still at the step the caller selected it at.
func (m *MockCampaignRepo) ClaimLead(_ context.Context, leadID, step int, _, _ time.Time) (bool, error) {
	l, ok := m.leads[leadID]
	if !ok || m.heldBy[leadID] || m.claimed[leadID] {
		return false, nil
	}
	if l.Status != model.LeadStatusActive || l.CurrentStep != step {
		return false, nil
	}
	m.claimed[leadID] = true
	return true, nil
}

func (m *MockCampaignRepo) ReleaseLead(_ context.Context, leadID int) error {
	delete(m.claimed, leadID)
	m.released = append(m.released, leadID)
	return nil
}

func (m *MockCampaignRepo) AdvanceLead(_ context.Context, leadID, nextStep int, nextDue time.Time) error {
	l := m.leads[leadID]
	l.CurrentStep = nextStep
	due := nextDue
	l.NextStepDue = &due
	return nil
}

func (m *MockCampaignRepo) CompleteLead(_ context.Context, leadID int) error {
	m.leads[leadID].Status = model.LeadStatusCompleted
	return nil
}

func (m *MockCampaignRepo) InsertLog(_ context.Context, campaignID int, leadID *int, logType, message string) error {
	m.logs = append(m.logs, model.CampaignLog{CampaignID: campaignID, LeadID: leadID, Type: logType, Message: message})
	return nil
}

func (m *MockCampaignRepo) logsOfType(t string) []model.CampaignLog {
	var out []model.CampaignLog
	for _, l := range m.logs {
		if l.Type == t {
			out = append(out, l)
		}
	}
	return out
}

type MockCustomerRepo struct {
	contacts     map[string]*model.Contact // keyed by email
	interactions []model.Interaction
	findErr      error
}

func (m *MockCustomerRepo) FindStrict(_ context.Context, email string, tenantID, ownerID int) (*model.Contact, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	c, ok := m.contacts[email]
	if !ok || c.TenantID != tenantID || c.OwnerID != ownerID {
		return nil, nil
	}
	return c, nil
}

func (m *MockCustomerRepo) CreateInteraction(_ context.Context, in *model.Interaction) error {
	m.interactions = append(m.interactions, *in)
	return nil
}

// inboundKey is the natural key of a synced row.
type inboundKey struct {
	tenant, account int
	uid             int64
	folder          string
}

type MockEmailRepo struct {
	mu      sync.Mutex
	nextID  int
	emails  map[int]*model.Email
	inbound map[inboundKey]*model.Email

	copyErr error
}

func newMockEmailRepo() *MockEmailRepo {
	return &MockEmailRepo{
		nextID:  100,
		emails:  map[int]*model.Email{},
		inbound: map[inboundKey]*model.Email{},
	}
}

func (m *MockEmailRepo) put(e *model.Email) {
	m.nextID++
	e.ID = m.nextID
	m.emails[e.ID] = e
}

func (m *MockEmailRepo) get(id int) *model.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	if !ok {
		return nil
	}
	c := *e
	return &c
}

func (m *MockEmailRepo) GetByID(_ context.Context, id int) (*model.Email, error) {
	if e := m.get(id); e != nil {
		return e, nil
	}
	return nil, appErrors.NewEmailNotFound(id)
}

func (m *MockEmailRepo) CreateQueued(_ context.Context, e *model.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Direction = model.DirectionOutbound
	e.Folder = model.FolderSENT
	e.Status = model.EmailStatusQueued
	c := *e
	m.put(&c)
	e.ID = c.ID
	return nil
}

func (m *MockEmailRepo) InsertCampaignCopy(_ context.Context, e *model.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.copyErr != nil {
		return m.copyErr
	}
	e.Status = model.EmailStatusSent
	e.Folder = model.FolderSENT
	c := *e
	m.put(&c)
	e.ID = c.ID
	return nil
}

func (m *MockEmailRepo) MarkSent(_ context.Context, id int, messageID, response string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	if !ok {
		return nil
	}
	e.Status = model.EmailStatusSent
	e.MessageID = &messageID
	e.ProviderResp = &response
	e.LastError = nil
	return nil
}

func (m *MockEmailRepo) MarkFailed(_ context.Context, id int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	if !ok {
		return nil
	}
	e.Status = model.EmailStatusFailed
	e.LastError = &lastError
	return nil
}

func (m *MockEmailRepo) UpsertInbound(_ context.Context, e *model.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := inboundKey{e.TenantID, e.SMTPAccountID, *e.UID, e.Folder}
	if existing, ok := m.inbound[k]; ok {
		id := existing.ID
		c := *e
		c.ID = id
		m.inbound[k] = &c
		m.emails[id] = &c
		return nil
	}
	c := *e
	m.put(&c)
	m.inbound[k] = &c
	return nil
}

func (m *MockEmailRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.emails)
}

type MockAccountRepo struct {
	accounts map[int]*model.SmtpAccount
	touched  []int
}

func (m *MockAccountRepo) GetByID(_ context.Context, id int) (*model.SmtpAccount, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, appErrors.NewAccountNotFound(id)
	}
	c := *a
	return &c, nil
}

func (m *MockAccountRepo) ListSyncable(context.Context) ([]model.SmtpAccount, error) {
	ids := make([]int, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var out []model.SmtpAccount
	for _, id := range ids {
		a := m.accounts[id]
		if host, _ := a.IMAPAddress(); a.IsActive && host != "" {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *MockAccountRepo) TouchLastSync(_ context.Context, id int) error {
	m.touched = append(m.touched, id)
	return nil
}

type MockHistoryRepo struct {
	mu      sync.Mutex
	entries []model.QueueJobHistory
}

func (m *MockHistoryRepo) Record(_ context.Context, h *model.QueueJobHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *h)
	return nil
}

func (m *MockHistoryRepo) all() []model.QueueJobHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.QueueJobHistory(nil), m.entries...)
}

// --- Mock transports ---

type MockMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	fail func(msg mailer.Message) error
}

func (m *MockMailer) Deliver(_ context.Context, _ mailer.Credentials, msg mailer.Message) (*mailer.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		if err := m.fail(msg); err != nil {
			return nil, err
		}
	}
	m.sent = append(m.sent, msg)
	return &mailer.Receipt{
		MessageID: fmt.Sprintf("<%d@example.com>", len(m.sent)),
		Response:  "250 2.0.0 OK",
	}, nil
}

func (m *MockMailer) deliveries() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

func failFor(addr string, err error) func(mailer.Message) error {
	return func(msg mailer.Message) error {
		for _, to := range msg.To {
			if to.Email == addr {
				return err
			}
		}
		return nil
	}
}

type MockFetcher struct {
	byHost map[string][]mailbox.InboundMessage
	errs   map[string]error
	calls  int
}

func (m *MockFetcher) FetchRecent(_ context.Context, creds mailbox.Credentials, _ int) ([]mailbox.InboundMessage, error) {
	m.calls++
	if err := m.errs[creds.Host]; err != nil {
		return nil, err
	}
	return m.byHost[creds.Host], nil
}

type MockQueue struct {
	published [][]byte
	err       error
}

func (m *MockQueue) Publish(_ context.Context, _ string, body []byte) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, body)
	return nil
}

func (m *MockQueue) Subscribe(context.Context, string, queue.Handler) error {
	return errors.New("not supported")
}
