package admin

import (
	"context"
	"encoding/json"

	"assignment-engine/internal/common/logger"
	"assignment-engine/internal/models"
)

// DocumentIndexer is the slice of the Elasticsearch client the alert
// indexer uses.
type DocumentIndexer interface {
	Index(ctx context.Context, index, id string, body []byte) error
}

// AlertIndexer mirrors raised alerts into a search index so operators can
// query them alongside the rest of the audit trail. Indexing failures are
// logged; the store stays the source of truth.
type AlertIndexer struct {
	es    DocumentIndexer
	index string
	log   logger.Logger
}

// NewAlertIndexer wires the indexer against the given index name.
func NewAlertIndexer(es DocumentIndexer, index string, log logger.Logger) *AlertIndexer {
	return &AlertIndexer{es: es, index: index, log: log}
}

// AlertRaised implements the integrity monitor's alert sink.
func (i *AlertIndexer) AlertRaised(ctx context.Context, a models.FraudAlert) {
	body, err := json.Marshal(a)
	if err != nil {
		i.log.WithError(err).Error("Failed to encode alert for indexing", map[string]interface{}{"alertId": a.ID})
		return
	}
	if err := i.es.Index(ctx, i.index, a.ID, body); err != nil {
		i.log.WithError(err).Error("Failed to index alert", map[string]interface{}{"alertId": a.ID})
	}
}
