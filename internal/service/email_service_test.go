package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/mailflow-backend/internal/errors"
	"github.com/unclebandit/mailflow-backend/internal/model"
	"github.com/unclebandit/mailflow-backend/internal/service"
)

func newEmailService() (*service.EmailService, *MockEmailRepo, *MockQueue) {
	emails := newMockEmailRepo()
	q := &MockQueue{}
	accounts := &MockAccountRepo{accounts: map[int]*model.SmtpAccount{
		5: {ID: 5, TenantID: testTenant, FromName: "Acme", FromEmail: "sales@acme.test", IsActive: true},
		6: {ID: 6, TenantID: testTenant, FromEmail: "old@acme.test"},
	}}
	return &service.EmailService{EmailRepo: emails, AccountRepo: accounts, Queue: q, Topic: "email-queue", Log: quietLogger()}, emails, q
}

func TestEnqueueStoresQueuedEmailAndPublishes(t *testing.T) {
	svc, emails, q := newEmailService()

	email, err := svc.Enqueue(context.Background(), service.SendRequest{
		TenantID: testTenant, SMTPAccountID: 5, To: []string{" bob@example.org ", ""},
		Subject: "Hello", BodyHTML: "<p>Hi Bob</p>",
	})
	require.NoError(t, err)

	stored := emails.get(email.ID)
	require.Equal(t, model.EmailStatusQueued, stored.Status)
	require.Equal(t, "Hi Bob", stored.BodyText)
	require.Equal(t, "sales@acme.test", stored.FromAddress)
	require.Equal(t, `[{"name":"","email":"bob@example.org"}]`, stored.RecipientTo)

	require.Len(t, q.published, 1)
	var job model.SendJob
	require.NoError(t, json.Unmarshal(q.published[0], &job))
	require.Equal(t, model.SendJob{EmailID: email.ID, SMTPAccountID: 5}, job)
}

func TestEnqueueValidation(t *testing.T) {
	svc, _, q := newEmailService()
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, service.SendRequest{TenantID: testTenant, SMTPAccountID: 5})
	require.ErrorIs(t, err, appErrors.ErrInvalidRequest)

	_, err = svc.Enqueue(ctx, service.SendRequest{TenantID: testTenant, SMTPAccountID: 6, To: []string{"a@x.com"}})
	require.ErrorIs(t, err, appErrors.ErrInvalidRequest)

	var nf *appErrors.ErrAccountNotFound
	_, err = svc.Enqueue(ctx, service.SendRequest{TenantID: 99, SMTPAccountID: 5, To: []string{"a@x.com"}})
	require.ErrorAs(t, err, &nf)

	require.Empty(t, q.published)
}

func TestEnqueuePublishFailureMarksEmailFailed(t *testing.T) {
	svc, emails, q := newEmailService()
	q.err = errors.New("broker unavailable")

	_, err := svc.Enqueue(context.Background(), service.SendRequest{TenantID: testTenant, SMTPAccountID: 5, To: []string{"a@x.com"}})
	require.Error(t, err)

	stored := emails.get(101)
	require.Equal(t, model.EmailStatusFailed, stored.Status)
	require.Equal(t, "broker unavailable", *stored.LastError)
}
