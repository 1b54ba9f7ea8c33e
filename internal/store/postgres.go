package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	apperrors "assignment-engine/internal/common/errors"
	"assignment-engine/internal/models"
)

// Postgres is the durable Store. Role stats, evidence and submission
// coordinates live in jsonb columns; everything queried on has its own
// column. Task and alert updates compare the state the caller read inside
// the WHERE clause, so a lost race surfaces as zero rows affected.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) PutBusiness(ctx context.Context, b models.Business) error {
	const q = `
		INSERT INTO businesses (id, lat, lng, category, registered_at, status, certification_score, checklist_schema)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			lat = EXCLUDED.lat, lng = EXCLUDED.lng, category = EXCLUDED.category,
			status = EXCLUDED.status, certification_score = EXCLUDED.certification_score,
			checklist_schema = EXCLUDED.checklist_schema`

	var schema interface{}
	if len(b.ChecklistSchema) > 0 {
		schema = []byte(b.ChecklistSchema)
	}
	_, err := p.db.ExecContext(ctx, q,
		b.ID, b.Location.Lat, b.Location.Lng, b.Category, b.RegisteredAt,
		string(b.Status), b.CertificationScore, schema)
	if err != nil {
		return apperrors.NewDatabaseError("put_business", err)
	}
	return nil
}

func (p *Postgres) GetBusiness(ctx context.Context, id string) (models.Business, error) {
	const q = `
		SELECT id, lat, lng, category, registered_at, status, certification_score, checklist_schema
		FROM businesses WHERE id = $1`

	var b models.Business
	var status string
	var schema []byte
	err := p.db.QueryRowContext(ctx, q, id).Scan(
		&b.ID, &b.Location.Lat, &b.Location.Lng, &b.Category, &b.RegisteredAt,
		&status, &b.CertificationScore, &schema)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Business{}, apperrors.NewEntityNotFoundError("business", id)
	}
	if err != nil {
		return models.Business{}, apperrors.NewDatabaseError("get_business", err)
	}
	b.Status = models.BusinessStatus(status)
	b.ChecklistSchema = json.RawMessage(schema)
	return b, nil
}

func (p *Postgres) UpdateBusinessStatus(ctx context.Context, id string, status models.BusinessStatus, score *float64) error {
	const q = `
		UPDATE businesses
		SET status = $2, certification_score = COALESCE($3, certification_score)
		WHERE id = $1`

	res, err := p.db.ExecContext(ctx, q, id, string(status), score)
	if err != nil {
		return apperrors.NewDatabaseError("update_business_status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewEntityNotFoundError("business", id)
	}
	return nil
}

func (p *Postgres) PutAgent(ctx context.Context, a models.Agent) error {
	const q = `
		INSERT INTO agents (id, role, lat, lng, frozen, created_at, stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			lat = EXCLUDED.lat, lng = EXCLUDED.lng,
			frozen = EXCLUDED.frozen, stats = EXCLUDED.stats`

	stats, err := marshalAgentStats(a)
	if err != nil {
		return apperrors.NewDatabaseError("put_agent", err)
	}
	_, err = p.db.ExecContext(ctx, q,
		a.ID, string(a.Role), a.Location.Lat, a.Location.Lng, a.Frozen, a.CreatedAt, stats)
	if err != nil {
		return apperrors.NewDatabaseError("put_agent", err)
	}
	return nil
}

func (p *Postgres) GetAgent(ctx context.Context, id string) (models.Agent, error) {
	const q = `SELECT id, role, lat, lng, frozen, created_at, stats FROM agents WHERE id = $1`

	row := p.db.QueryRowContext(ctx, q, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Agent{}, apperrors.NewAgentNotFoundError(id)
	}
	if err != nil {
		return models.Agent{}, apperrors.NewDatabaseError("get_agent", err)
	}
	return a, nil
}

func (p *Postgres) SetAgentFrozen(ctx context.Context, id string, frozen bool) error {
	res, err := p.db.ExecContext(ctx, `UPDATE agents SET frozen = $2 WHERE id = $1`, id, frozen)
	if err != nil {
		return apperrors.NewDatabaseError("set_agent_frozen", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewAgentNotFoundError(id)
	}
	return nil
}

func (p *Postgres) ListAgents(ctx context.Context, role models.AgentRole) ([]models.Agent, error) {
	const q = `SELECT id, role, lat, lng, frozen, created_at, stats FROM agents WHERE role = $1 ORDER BY id`

	rows, err := p.db.QueryContext(ctx, q, string(role))
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_agents", err)
	}
	defer rows.Close()

	out := make([]models.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("list_agents", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list_agents", err)
	}
	return out, nil
}

func (p *Postgres) PutAuditTask(ctx context.Context, t models.AuditTask) error {
	const q = `
		INSERT INTO audit_tasks
			(id, business_id, auditor_id, payout_amount, state, created_at, updated_at,
			 assigned_distance_km, submission_location, duration_seconds, stalled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			auditor_id = EXCLUDED.auditor_id, state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at, assigned_distance_km = EXCLUDED.assigned_distance_km,
			submission_location = EXCLUDED.submission_location,
			duration_seconds = EXCLUDED.duration_seconds, stalled = EXCLUDED.stalled`

	loc, err := marshalLocation(t.SubmissionLocation)
	if err != nil {
		return apperrors.NewDatabaseError("put_audit_task", err)
	}
	_, err = p.db.ExecContext(ctx, q,
		t.ID, t.BusinessID, nullString(t.AuditorID), t.PayoutAmount, string(t.State),
		t.CreatedAt, t.UpdatedAt, t.AssignedDistanceKm, loc, int64(t.Duration.Seconds()), t.Stalled)
	if err != nil {
		return apperrors.NewDatabaseError("put_audit_task", err)
	}
	return nil
}

func (p *Postgres) GetAuditTask(ctx context.Context, id string) (models.AuditTask, error) {
	const q = `
		SELECT id, business_id, auditor_id, payout_amount, state, created_at, updated_at,
		       assigned_distance_km, submission_location, duration_seconds, stalled
		FROM audit_tasks WHERE id = $1`

	var t models.AuditTask
	var auditorID sql.NullString
	var state string
	var loc []byte
	var durationSec int64
	err := p.db.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.BusinessID, &auditorID, &t.PayoutAmount, &state, &t.CreatedAt, &t.UpdatedAt,
		&t.AssignedDistanceKm, &loc, &durationSec, &t.Stalled)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AuditTask{}, apperrors.NewTaskNotFoundError(id)
	}
	if err != nil {
		return models.AuditTask{}, apperrors.NewDatabaseError("get_audit_task", err)
	}
	t.AuditorID = auditorID.String
	t.State = models.AuditTaskState(state)
	t.Duration = time.Duration(durationSec) * time.Second
	if t.SubmissionLocation, err = unmarshalLocation(loc); err != nil {
		return models.AuditTask{}, apperrors.NewDatabaseError("get_audit_task", err)
	}
	return t, nil
}

func (p *Postgres) UpdateAuditTask(ctx context.Context, t models.AuditTask, from models.AuditTaskState) error {
	const q = `
		UPDATE audit_tasks
		SET auditor_id = $2, state = $3, updated_at = $4, assigned_distance_km = $5,
		    submission_location = $6, duration_seconds = $7, stalled = $8
		WHERE id = $1 AND state = $9`

	loc, err := marshalLocation(t.SubmissionLocation)
	if err != nil {
		return apperrors.NewDatabaseError("update_audit_task", err)
	}
	res, err := p.db.ExecContext(ctx, q,
		t.ID, nullString(t.AuditorID), string(t.State), t.UpdatedAt, t.AssignedDistanceKm,
		loc, int64(t.Duration.Seconds()), t.Stalled, string(from))
	if err != nil {
		return apperrors.NewDatabaseError("update_audit_task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewStalePersistenceError(staleStateError("unknown", string(from)))
	}
	return nil
}

func (p *Postgres) ListAuditTasksByAgent(ctx context.Context, auditorID string) ([]models.AuditTask, error) {
	const q = `
		SELECT id, business_id, auditor_id, payout_amount, state, created_at, updated_at,
		       assigned_distance_km, submission_location, duration_seconds, stalled
		FROM audit_tasks WHERE auditor_id = $1 ORDER BY created_at`
	return p.listAuditTasks(ctx, q, auditorID)
}

func (p *Postgres) ListAuditTasksByBusiness(ctx context.Context, businessID string) ([]models.AuditTask, error) {
	const q = `
		SELECT id, business_id, auditor_id, payout_amount, state, created_at, updated_at,
		       assigned_distance_km, submission_location, duration_seconds, stalled
		FROM audit_tasks WHERE business_id = $1 ORDER BY created_at`
	return p.listAuditTasks(ctx, q, businessID)
}

func (p *Postgres) listAuditTasks(ctx context.Context, q, arg string) ([]models.AuditTask, error) {
	rows, err := p.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_audit_tasks", err)
	}
	defer rows.Close()

	out := make([]models.AuditTask, 0)
	for rows.Next() {
		var t models.AuditTask
		var aid sql.NullString
		var state string
		var loc []byte
		var durationSec int64
		if err := rows.Scan(&t.ID, &t.BusinessID, &aid, &t.PayoutAmount, &state, &t.CreatedAt,
			&t.UpdatedAt, &t.AssignedDistanceKm, &loc, &durationSec, &t.Stalled); err != nil {
			return nil, apperrors.NewDatabaseError("list_audit_tasks", err)
		}
		t.AuditorID = aid.String
		t.State = models.AuditTaskState(state)
		t.Duration = time.Duration(durationSec) * time.Second
		if t.SubmissionLocation, err = unmarshalLocation(loc); err != nil {
			return nil, apperrors.NewDatabaseError("list_audit_tasks", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list_audit_tasks", err)
	}
	return out, nil
}

func (p *Postgres) PutSupplierTask(ctx context.Context, t models.SupplierTask) error {
	const q = `
		INSERT INTO supplier_tasks
			(id, business_id, supplier_id, state, created_at, updated_at, assigned_distance_km, stalled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			supplier_id = EXCLUDED.supplier_id, state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at, assigned_distance_km = EXCLUDED.assigned_distance_km,
			stalled = EXCLUDED.stalled`

	_, err := p.db.ExecContext(ctx, q,
		t.ID, t.BusinessID, nullString(t.SupplierID), string(t.State),
		t.CreatedAt, t.UpdatedAt, t.AssignedDistanceKm, t.Stalled)
	if err != nil {
		return apperrors.NewDatabaseError("put_supplier_task", err)
	}
	return nil
}

func (p *Postgres) GetSupplierTask(ctx context.Context, id string) (models.SupplierTask, error) {
	const q = `
		SELECT id, business_id, supplier_id, state, created_at, updated_at, assigned_distance_km, stalled
		FROM supplier_tasks WHERE id = $1`

	var t models.SupplierTask
	var supplierID sql.NullString
	var state string
	err := p.db.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.BusinessID, &supplierID, &state, &t.CreatedAt, &t.UpdatedAt,
		&t.AssignedDistanceKm, &t.Stalled)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SupplierTask{}, apperrors.NewTaskNotFoundError(id)
	}
	if err != nil {
		return models.SupplierTask{}, apperrors.NewDatabaseError("get_supplier_task", err)
	}
	t.SupplierID = supplierID.String
	t.State = models.SupplierTaskState(state)
	return t, nil
}

func (p *Postgres) UpdateSupplierTask(ctx context.Context, t models.SupplierTask, from models.SupplierTaskState) error {
	const q = `
		UPDATE supplier_tasks
		SET supplier_id = $2, state = $3, updated_at = $4, assigned_distance_km = $5, stalled = $6
		WHERE id = $1 AND state = $7`

	res, err := p.db.ExecContext(ctx, q,
		t.ID, nullString(t.SupplierID), string(t.State), t.UpdatedAt,
		t.AssignedDistanceKm, t.Stalled, string(from))
	if err != nil {
		return apperrors.NewDatabaseError("update_supplier_task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewStalePersistenceError(staleStateError("unknown", string(from)))
	}
	return nil
}

func (p *Postgres) ListSupplierTasksByAgent(ctx context.Context, supplierID string) ([]models.SupplierTask, error) {
	const q = `
		SELECT id, business_id, supplier_id, state, created_at, updated_at, assigned_distance_km, stalled
		FROM supplier_tasks WHERE supplier_id = $1 ORDER BY created_at`
	return p.listSupplierTasks(ctx, q, supplierID)
}

func (p *Postgres) ListSupplierTasksByBusiness(ctx context.Context, businessID string) ([]models.SupplierTask, error) {
	const q = `
		SELECT id, business_id, supplier_id, state, created_at, updated_at, assigned_distance_km, stalled
		FROM supplier_tasks WHERE business_id = $1 ORDER BY created_at`
	return p.listSupplierTasks(ctx, q, businessID)
}

func (p *Postgres) listSupplierTasks(ctx context.Context, q, arg string) ([]models.SupplierTask, error) {
	rows, err := p.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_supplier_tasks", err)
	}
	defer rows.Close()

	out := make([]models.SupplierTask, 0)
	for rows.Next() {
		var t models.SupplierTask
		var sid sql.NullString
		var state string
		if err := rows.Scan(&t.ID, &t.BusinessID, &sid, &state, &t.CreatedAt, &t.UpdatedAt,
			&t.AssignedDistanceKm, &t.Stalled); err != nil {
			return nil, apperrors.NewDatabaseError("list_supplier_tasks", err)
		}
		t.SupplierID = sid.String
		t.State = models.SupplierTaskState(state)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list_supplier_tasks", err)
	}
	return out, nil
}

func (p *Postgres) PutReview(ctx context.Context, r models.Review) error {
	const q = `
		INSERT INTO reviews (id, business_id, author_fingerprint, rating, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := p.db.ExecContext(ctx, q, r.ID, r.BusinessID, r.AuthorFingerprint, r.Rating, r.CreatedAt)
	if err != nil {
		return apperrors.NewDatabaseError("put_review", err)
	}
	return nil
}

func (p *Postgres) GetReview(ctx context.Context, id string) (models.Review, error) {
	const q = `SELECT id, business_id, author_fingerprint, rating, created_at FROM reviews WHERE id = $1`

	var r models.Review
	err := p.db.QueryRowContext(ctx, q, id).Scan(&r.ID, &r.BusinessID, &r.AuthorFingerprint, &r.Rating, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Review{}, apperrors.NewEntityNotFoundError("review", id)
	}
	if err != nil {
		return models.Review{}, apperrors.NewDatabaseError("get_review", err)
	}
	return r, nil
}

func (p *Postgres) PutAlert(ctx context.Context, a models.FraudAlert) error {
	const q = `
		INSERT INTO fraud_alerts
			(id, rule, severity, subject_type, subject_id, description, status, created_at, evidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return apperrors.NewDatabaseError("put_alert", err)
	}
	_, err = p.db.ExecContext(ctx, q,
		a.ID, string(a.Rule), string(a.Severity), string(a.SubjectType), a.SubjectID,
		a.Description, string(a.Status), a.CreatedAt, evidence)
	if err != nil {
		return apperrors.NewDatabaseError("put_alert", err)
	}
	return nil
}

func (p *Postgres) GetAlert(ctx context.Context, id string) (models.FraudAlert, error) {
	const q = `
		SELECT id, rule, severity, subject_type, subject_id, description, status, created_at, evidence
		FROM fraud_alerts WHERE id = $1`

	row := p.db.QueryRowContext(ctx, q, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FraudAlert{}, apperrors.NewEntityNotFoundError("alert", id)
	}
	if err != nil {
		return models.FraudAlert{}, apperrors.NewDatabaseError("get_alert", err)
	}
	return a, nil
}

func (p *Postgres) UpdateAlertStatus(ctx context.Context, id string, next models.AlertStatus) error {
	cur, err := p.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if !cur.Status.CanTransition(next) {
		return apperrors.NewInvalidTransitionError(id, string(cur.Status), string(next))
	}

	const q = `UPDATE fraud_alerts SET status = $2 WHERE id = $1 AND status = $3`
	res, err := p.db.ExecContext(ctx, q, id, string(next), string(cur.Status))
	if err != nil {
		return apperrors.NewDatabaseError("update_alert_status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewStalePersistenceError(staleStateError("unknown", string(cur.Status)))
	}
	return nil
}

func (p *Postgres) ListAlerts(ctx context.Context, f AlertFilter) ([]models.FraudAlert, error) {
	const q = `
		SELECT id, rule, severity, subject_type, subject_id, description, status, created_at, evidence
		FROM fraud_alerts
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR severity = $2)
		ORDER BY created_at`

	rows, err := p.db.QueryContext(ctx, q, string(f.Status), string(f.Severity))
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_alerts", err)
	}
	defer rows.Close()

	out := make([]models.FraudAlert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("list_alerts", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list_alerts", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (models.Agent, error) {
	var a models.Agent
	var role string
	var stats []byte
	err := row.Scan(&a.ID, &role, &a.Location.Lat, &a.Location.Lng, &a.Frozen, &a.CreatedAt, &stats)
	if err != nil {
		return models.Agent{}, err
	}
	a.Role = models.AgentRole(role)
	switch a.Role {
	case models.RoleAuditor:
		a.Auditor = &models.AuditorStats{}
		err = json.Unmarshal(stats, a.Auditor)
	case models.RoleSupplier:
		a.Supplier = &models.SupplierStats{}
		err = json.Unmarshal(stats, a.Supplier)
	}
	return a, err
}

func scanAlert(row rowScanner) (models.FraudAlert, error) {
	var a models.FraudAlert
	var rule, severity, subjectType, status string
	var evidence []byte
	err := row.Scan(&a.ID, &rule, &severity, &subjectType, &a.SubjectID,
		&a.Description, &status, &a.CreatedAt, &evidence)
	if err != nil {
		return models.FraudAlert{}, err
	}
	a.Rule = models.RuleType(rule)
	a.Severity = models.Severity(severity)
	a.SubjectType = models.SubjectType(subjectType)
	a.Status = models.AlertStatus(status)
	if len(evidence) > 0 {
		err = json.Unmarshal(evidence, &a.Evidence)
	}
	return a, err
}

func marshalAgentStats(a models.Agent) ([]byte, error) {
	switch {
	case a.Auditor != nil:
		return json.Marshal(a.Auditor)
	case a.Supplier != nil:
		return json.Marshal(a.Supplier)
	}
	return []byte("{}"), nil
}

func marshalLocation(loc *models.Location) (interface{}, error) {
	if loc == nil {
		return nil, nil
	}
	return json.Marshal(loc)
}

func unmarshalLocation(raw []byte) (*models.Location, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var loc models.Location
	if err := json.Unmarshal(raw, &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
