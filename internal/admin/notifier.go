package admin

import (
	"context"
	"encoding/json"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"assignment-engine/internal/common/config"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/models"
)

// SNSPublisher is the slice of the SNS client the notifier uses.
type SNSPublisher interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

// EmailSender is the slice of the SES client the notifier uses.
type EmailSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

// Notifier pushes raised alerts to the operator channels: every alert to
// the SNS topic, high severity additionally by email. Delivery failures are
// logged; the alert is already persisted.
type Notifier struct {
	sns   SNSPublisher
	email EmailSender
	cfg   config.NotificationConfig
	log   logger.Logger
}

// NewNotifier wires the alert notifier. Either client may be nil when its
// channel is disabled.
func NewNotifier(snsClient SNSPublisher, emailClient EmailSender, cfg config.NotificationConfig, log logger.Logger) *Notifier {
	return &Notifier{sns: snsClient, email: emailClient, cfg: cfg, log: log}
}

// AlertRaised implements the integrity monitor's alert sink.
func (n *Notifier) AlertRaised(ctx context.Context, a models.FraudAlert) {
	if n.cfg.SNS.Enabled && n.sns != nil {
		n.publishSNS(ctx, a)
	}
	if n.cfg.Email.Enabled && n.email != nil && a.Severity == models.SeverityHigh {
		n.sendEmail(ctx, a)
	}
}

// Publish pushes a domain event to the SNS topic for external collaborators
// (dashboards, downstream notification fan-out). It implements the engine's
// event sink next to the integrity monitor.
func (n *Notifier) Publish(ctx context.Context, e models.Event) {
	if !n.cfg.SNS.Enabled || n.sns == nil {
		return
	}

	body, err := json.Marshal(e)
	if err != nil {
		n.log.WithError(err).Error("Failed to encode event for SNS", map[string]interface{}{"eventType": string(e.Type)})
		return
	}

	_, err = n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: awssdk.String(n.cfg.SNS.TopicARN),
		Subject:  awssdk.String(string(e.Type)),
		Message:  awssdk.String(string(body)),
	})
	if err != nil {
		n.log.WithError(err).Error("Failed to publish event to SNS", map[string]interface{}{"eventType": string(e.Type)})
	}
}

func (n *Notifier) publishSNS(ctx context.Context, a models.FraudAlert) {
	body, err := json.Marshal(a)
	if err != nil {
		n.log.WithError(err).Error("Failed to encode alert for SNS", map[string]interface{}{"alertId": a.ID})
		return
	}

	_, err = n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: awssdk.String(n.cfg.SNS.TopicARN),
		Subject:  awssdk.String(fmt.Sprintf("Fraud alert: %s (%s)", a.Rule, a.Severity)),
		Message:  awssdk.String(string(body)),
	})
	if err != nil {
		n.log.WithError(err).Error("Failed to publish alert to SNS", map[string]interface{}{"alertId": a.ID})
	}
}

func (n *Notifier) sendEmail(ctx context.Context, a models.FraudAlert) {
	subject := fmt.Sprintf("High severity fraud alert: %s", a.Rule)
	body := fmt.Sprintf("Alert %s\nRule: %s\nSubject: %s %s\n\n%s\n",
		a.ID, a.Rule, a.SubjectType, a.SubjectID, a.Description)

	_, err := n.email.SendEmail(ctx, &ses.SendEmailInput{
		Source: awssdk.String(n.cfg.Email.FromEmail),
		Destination: &sestypes.Destination{
			ToAddresses: []string{n.cfg.Email.AdminEmail},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: awssdk.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: awssdk.String(body)},
			},
		},
	})
	if err != nil {
		n.log.WithError(err).Error("Failed to email alert", map[string]interface{}{"alertId": a.ID})
	}
}
