package integrity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"assignment-engine/internal/common/config"
	apperrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/common/metrics"
	"assignment-engine/internal/geo"
	"assignment-engine/internal/models"
	"assignment-engine/internal/store"
)

// AlertSink is notified after an alert is persisted. The search indexer and
// the admin notifier sit behind this; sink failures are logged, never
// propagated.
type AlertSink interface {
	AlertRaised(ctx context.Context, a models.FraudAlert)
}

// Monitor evaluates integrity rules against incoming domain events. Alerts
// are appended for every trigger; repeated triggers produce repeated alerts
// and suppression is left to the review workflow.
type Monitor struct {
	cfg     config.IntegrityConfig
	history History
	alerts  store.AlertStore
	sinks   []AlertSink
	log     logger.Logger
	now     func() time.Time
}

// NewMonitor wires the integrity monitor.
func NewMonitor(cfg config.IntegrityConfig, history History, alerts store.AlertStore, log logger.Logger, sinks ...AlertSink) *Monitor {
	return &Monitor{
		cfg:     cfg,
		history: history,
		alerts:  alerts,
		sinks:   sinks,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Publish satisfies the lifecycle and dispatch event sink. Evaluation is
// synchronous; a rule that cannot read its history is skipped with a logged
// error so the triggering operation never fails on the monitor's account.
func (m *Monitor) Publish(ctx context.Context, e models.Event) {
	switch e.Type {
	case models.EventReviewCreated:
		if e.ReviewCreated != nil {
			m.onReview(ctx, e.ReviewCreated.Review)
		}
	case models.EventAuditSubmitted:
		if e.AuditSubmitted != nil {
			m.onAuditSubmitted(ctx, *e.AuditSubmitted)
		}
	}
}

func (m *Monitor) onReview(ctx context.Context, r models.Review) {
	at := r.CreatedAt
	if at.IsZero() {
		at = m.now()
	}
	if err := m.history.RecordReview(ctx, r.BusinessID, r.AuthorFingerprint, at); err != nil {
		m.skipRule(models.RuleDuplicateReview, err)
		return
	}
	m.evalDuplicateReview(ctx, r, at)
}

func (m *Monitor) onAuditSubmitted(ctx context.Context, ev models.AuditSubmitted) {
	m.evalFastAudit(ctx, ev)
	m.evalGpsDeviation(ctx, ev)

	if err := m.history.RecordAudit(ctx, ev.AuditorID, ev.At); err != nil {
		m.skipRule(models.RuleAuditRateLimit, err)
		return
	}
	m.evalAuditRateLimit(ctx, ev)
}

// evalDuplicateReview flags a fingerprint posting more than N reviews for
// one business inside the sliding window.
func (m *Monitor) evalDuplicateReview(ctx context.Context, r models.Review, at time.Time) {
	rule := m.cfg.DuplicateReview
	if !rule.Enabled {
		return
	}

	window := time.Duration(rule.WindowHours) * time.Hour
	count, err := m.history.CountReviews(ctx, r.BusinessID, r.AuthorFingerprint, window, at)
	if err != nil {
		m.skipRule(models.RuleDuplicateReview, err)
		return
	}
	if count <= rule.MaxReviews {
		return
	}

	m.raise(ctx, models.FraudAlert{
		Rule:        models.RuleDuplicateReview,
		Severity:    models.SeverityHigh,
		SubjectType: models.SubjectReview,
		SubjectID:   r.ID,
		Description: fmt.Sprintf("fingerprint posted %d reviews for business %s within %dh", count, r.BusinessID, rule.WindowHours),
		Evidence: models.AlertEvidence{
			Count:     count,
			Threshold: float64(rule.MaxReviews),
		},
	})
}

// evalFastAudit flags audits finished faster than plausibly possible.
func (m *Monitor) evalFastAudit(ctx context.Context, ev models.AuditSubmitted) {
	rule := m.cfg.FastAudit
	if !rule.Enabled {
		return
	}

	minutes := ev.Duration.Minutes()
	if minutes >= float64(rule.MinDurationMinutes) {
		return
	}

	m.raise(ctx, models.FraudAlert{
		Rule:        models.RuleFastAudit,
		Severity:    models.SeverityMedium,
		SubjectType: models.SubjectTask,
		SubjectID:   ev.TaskID,
		Description: fmt.Sprintf("audit completed in %.1f minutes, minimum plausible is %d", minutes, rule.MinDurationMinutes),
		Evidence: models.AlertEvidence{
			DurationMinutes: minutes,
			Threshold:       float64(rule.MinDurationMinutes),
		},
	})
}

// evalAuditRateLimit flags auditors completing more audits per hour than
// field work allows.
func (m *Monitor) evalAuditRateLimit(ctx context.Context, ev models.AuditSubmitted) {
	rule := m.cfg.AuditRateLimit
	if !rule.Enabled {
		return
	}

	count, err := m.history.CountAudits(ctx, ev.AuditorID, time.Hour, ev.At)
	if err != nil {
		m.skipRule(models.RuleAuditRateLimit, err)
		return
	}
	if count <= rule.MaxAuditsPerHour {
		return
	}

	m.raise(ctx, models.FraudAlert{
		Rule:        models.RuleAuditRateLimit,
		Severity:    models.SeverityMedium,
		SubjectType: models.SubjectAgent,
		SubjectID:   ev.AuditorID,
		Description: fmt.Sprintf("auditor completed %d audits in the last hour, limit is %d", count, rule.MaxAuditsPerHour),
		Evidence: models.AlertEvidence{
			Count:     count,
			Threshold: float64(rule.MaxAuditsPerHour),
		},
	})
}

// evalGpsDeviation flags report submissions recorded too far from the
// business being audited.
func (m *Monitor) evalGpsDeviation(ctx context.Context, ev models.AuditSubmitted) {
	rule := m.cfg.GpsDeviation
	if !rule.Enabled {
		return
	}

	deviation := geo.DistanceMeters(ev.BusinessLocation, ev.SubmissionLocation)
	if deviation <= rule.MaxDeviationMeters {
		return
	}

	m.raise(ctx, models.FraudAlert{
		Rule:        models.RuleGpsDeviation,
		Severity:    models.SeverityHigh,
		SubjectType: models.SubjectTask,
		SubjectID:   ev.TaskID,
		Description: fmt.Sprintf("report submitted %.0fm from the business, maximum is %.0fm", deviation, rule.MaxDeviationMeters),
		Evidence: models.AlertEvidence{
			DistanceMeters: deviation,
			Threshold:      rule.MaxDeviationMeters,
		},
	})
}

// raise persists the alert and fans it out to the sinks.
func (m *Monitor) raise(ctx context.Context, a models.FraudAlert) {
	a.ID = uuid.NewString()
	a.Status = models.AlertPending
	a.CreatedAt = m.now()

	if err := m.alerts.PutAlert(ctx, a); err != nil {
		m.log.WithError(err).Error("Failed to persist fraud alert", map[string]interface{}{
			"rule":      string(a.Rule),
			"subjectId": a.SubjectID,
		})
		return
	}
	metrics.FraudAlertsTotal.WithLabelValues(string(a.Rule), string(a.Severity)).Inc()

	m.log.Warn("Fraud alert raised", map[string]interface{}{
		"alertId":   a.ID,
		"rule":      string(a.Rule),
		"severity":  string(a.Severity),
		"subjectId": a.SubjectID,
	})

	for _, sink := range m.sinks {
		sink.AlertRaised(ctx, a)
	}
}

// skipRule records a degraded evaluation. The rule simply does not fire
// this time.
func (m *Monitor) skipRule(rule models.RuleType, err error) {
	metrics.RuleEvaluationErrors.WithLabelValues(string(rule)).Inc()
	wrapped := apperrors.NewHistoryQueryFailedError(string(rule), err)
	m.log.WithError(wrapped).Warn("Integrity rule skipped, history unavailable", map[string]interface{}{
		"rule": string(rule),
	})
}
