package admin

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assignment-engine/internal/common/config"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/models"
)

type snsRecorder struct {
	inputs []*sns.PublishInput
}

func (r *snsRecorder) Publish(_ context.Context, input *sns.PublishInput) (*sns.PublishOutput, error) {
	r.inputs = append(r.inputs, input)
	return &sns.PublishOutput{}, nil
}

type sesRecorder struct {
	inputs []*ses.SendEmailInput
}

func (r *sesRecorder) SendEmail(_ context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
	r.inputs = append(r.inputs, input)
	return &ses.SendEmailOutput{}, nil
}

func notificationConfig() config.NotificationConfig {
	var cfg config.NotificationConfig
	cfg.SNS.Enabled = true
	cfg.SNS.TopicARN = "arn:aws:sns:ap-south-1:123456789012:fraud-alerts"
	cfg.Email.Enabled = true
	cfg.Email.FromEmail = "alerts@example.com"
	cfg.Email.AdminEmail = "ops@example.com"
	return cfg
}

func TestNotifier_SNSForEveryAlert(t *testing.T) {
	snsRec := &snsRecorder{}
	sesRec := &sesRecorder{}
	n := NewNotifier(snsRec, sesRec, notificationConfig(), logger.NewNoOpLogger())

	n.AlertRaised(context.Background(), models.FraudAlert{
		ID: "a1", Rule: models.RuleFastAudit, Severity: models.SeverityMedium,
	})

	require.Len(t, snsRec.inputs, 1)
	assert.Contains(t, *snsRec.inputs[0].Subject, "fast_audit")
	assert.Empty(t, sesRec.inputs) // medium severity does not email
}

func TestNotifier_EmailOnlyForHighSeverity(t *testing.T) {
	snsRec := &snsRecorder{}
	sesRec := &sesRecorder{}
	n := NewNotifier(snsRec, sesRec, notificationConfig(), logger.NewNoOpLogger())

	n.AlertRaised(context.Background(), models.FraudAlert{
		ID: "a2", Rule: models.RuleGpsDeviation, Severity: models.SeverityHigh,
		SubjectType: models.SubjectTask, SubjectID: "task-1",
		Description: "report submitted 300m from the business, maximum is 100m",
	})

	require.Len(t, snsRec.inputs, 1)
	require.Len(t, sesRec.inputs, 1)
	assert.Equal(t, "alerts@example.com", *sesRec.inputs[0].Source)
	assert.Equal(t, []string{"ops@example.com"}, sesRec.inputs[0].Destination.ToAddresses)
}

func TestNotifier_DisabledChannelsStayQuiet(t *testing.T) {
	cfg := notificationConfig()
	cfg.SNS.Enabled = false
	cfg.Email.Enabled = false

	snsRec := &snsRecorder{}
	sesRec := &sesRecorder{}
	n := NewNotifier(snsRec, sesRec, cfg, logger.NewNoOpLogger())

	n.AlertRaised(context.Background(), models.FraudAlert{
		ID: "a3", Severity: models.SeverityHigh,
	})

	assert.Empty(t, snsRec.inputs)
	assert.Empty(t, sesRec.inputs)
}

func TestNotifier_PublishesDomainEvents(t *testing.T) {
	snsRec := &snsRecorder{}
	n := NewNotifier(snsRec, nil, notificationConfig(), logger.NewNoOpLogger())

	n.Publish(context.Background(), models.Event{
		Type: models.EventTaskCreated,
		TaskCreated: &models.TaskCreated{
			TaskID: "task-1", Kind: models.KindAudit, BusinessID: "biz-1",
		},
	})

	require.Len(t, snsRec.inputs, 1)
	assert.Equal(t, string(models.EventTaskCreated), *snsRec.inputs[0].Subject)
	assert.Contains(t, *snsRec.inputs[0].Message, "task-1")

	cfg := notificationConfig()
	cfg.SNS.Enabled = false
	quiet := NewNotifier(snsRec, nil, cfg, logger.NewNoOpLogger())
	quiet.Publish(context.Background(), models.Event{Type: models.EventTaskCreated})
	assert.Len(t, snsRec.inputs, 1)
}

type indexRecorder struct {
	docs map[string][]byte
}

func (r *indexRecorder) Index(_ context.Context, index, id string, body []byte) error {
	if r.docs == nil {
		r.docs = make(map[string][]byte)
	}
	r.docs[index+"/"+id] = body
	return nil
}

func TestAlertIndexer_WritesDocument(t *testing.T) {
	rec := &indexRecorder{}
	idx := NewAlertIndexer(rec, "fraud-alerts", logger.NewNoOpLogger())

	idx.AlertRaised(context.Background(), models.FraudAlert{
		ID: "a1", Rule: models.RuleDuplicateReview, Severity: models.SeverityMedium,
	})

	body, ok := rec.docs["fraud-alerts/a1"]
	require.True(t, ok)
	assert.Contains(t, string(body), `"duplicate_review"`)
}
