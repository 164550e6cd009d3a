package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/triage/internal/platform/db"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func connFor(ctx context.Context, pool *pgxpool.Pool) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, op, err)
}

// =========== Triage Repository ===========

type triageRepoPG struct{ pool *pgxpool.Pool }

func NewTriageRepoPG(pool *pgxpool.Pool) TriageRepository {
	return &triageRepoPG{pool: pool}
}

func (r *triageRepoPG) conn(ctx context.Context) db.Querier { return connFor(ctx, r.pool) }

const triageCols = `id, admission_ref, patient_ref, flow, complaint_text, consult_reason,
	vital_signs, women_health, original_risk_level, final_risk_level,
	applied_protocol_ref, suggested_conduct, suggested_diagnoses, notes, allergies,
	cancelled, cancel_reason, attended_at, created_at, updated_at`

func (r *triageRepoPG) scanTriage(row pgx.Row) (*TriageRecord, error) {
	var t TriageRecord
	err := row.Scan(&t.ID, &t.AdmissionRef, &t.PatientRef, &t.Flow, &t.ComplaintText, &t.ConsultReason,
		&t.VitalSigns, &t.WomenHealth, &t.OriginalRiskLevel, &t.FinalRiskLevel,
		&t.AppliedProtocolRef, &t.SuggestedConduct, &t.SuggestedDiagnoses, &t.Notes, &t.Allergies,
		&t.Cancelled, &t.CancelReason, &t.AttendedAt, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *triageRepoPG) Create(ctx context.Context, t *TriageRecord) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO triage_record (id, admission_ref, patient_ref, flow, complaint_text, consult_reason,
			vital_signs, women_health, original_risk_level, final_risk_level,
			applied_protocol_ref, suggested_conduct, suggested_diagnoses, notes, allergies)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		t.ID, t.AdmissionRef, t.PatientRef, t.Flow, t.ComplaintText, t.ConsultReason,
		t.VitalSigns, t.WomenHealth, t.OriginalRiskLevel, t.FinalRiskLevel,
		t.AppliedProtocolRef, t.SuggestedConduct, t.SuggestedDiagnoses, t.Notes, t.Allergies,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return fmt.Errorf("%w: admission %s already has an active triage", ErrConflict, t.AdmissionRef)
			case pgForeignKeyViolation:
				return fmt.Errorf("%w: admission %s", ErrNotFound, t.AdmissionRef)
			}
		}
		return upstream("insert triage record", err)
	}
	return nil
}

func (r *triageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TriageRecord, error) {
	t, err := r.scanTriage(r.conn(ctx).QueryRow(ctx, `SELECT `+triageCols+` FROM triage_record WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: triage record %s", ErrNotFound, id)
		}
		return nil, upstream("get triage record", err)
	}
	return t, nil
}

// guardedUpdate runs a conditional UPDATE that only touches non-terminal
// records. When no row comes back the record is re-read to tell a missing id
// from a terminal one.
func (r *triageRepoPG) guardedUpdate(ctx context.Context, id uuid.UUID, set string, args ...interface{}) (*TriageRecord, error) {
	query := `UPDATE triage_record SET ` + set + `, updated_at = NOW()
		WHERE id = $1 AND NOT cancelled AND attended_at IS NULL
		RETURNING ` + triageCols
	t, err := r.scanTriage(r.conn(ctx).QueryRow(ctx, query, append([]interface{}{id}, args...)...))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, upstream("update triage record", err)
	}
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Cancelled {
		return nil, fmt.Errorf("%w: triage record %s is cancelled", ErrConflict, id)
	}
	return nil, fmt.Errorf("%w: triage record %s was already attended", ErrConflict, id)
}

func (r *triageRepoPG) Cancel(ctx context.Context, id uuid.UUID, reason string) (*TriageRecord, error) {
	return r.guardedUpdate(ctx, id, `cancelled = TRUE, cancel_reason = $2`, reason)
}

func (r *triageRepoPG) Reclassify(ctx context.Context, id uuid.UUID, level RiskLevel, note *string) (*TriageRecord, error) {
	return r.guardedUpdate(ctx, id, `final_risk_level = $2,
		original_risk_level = COALESCE(original_risk_level, $2),
		notes = CASE
			WHEN $3::text IS NULL OR $3::text = '' THEN notes
			WHEN notes IS NULL OR notes = '' THEN $3::text
			ELSE notes || E'\n' || $3::text
		END`, level, note)
}

func (r *triageRepoPG) MarkAttended(ctx context.Context, id uuid.UUID, at time.Time) (*TriageRecord, error) {
	return r.guardedUpdate(ctx, id, `attended_at = $2`, at)
}

func (r *triageRepoPG) ListAwaitingAttendance(ctx context.Context, flow *Flow) ([]*TriageRecord, error) {
	query := `SELECT ` + triageCols + ` FROM triage_record
		WHERE NOT cancelled AND attended_at IS NULL`
	var args []interface{}
	if flow != nil {
		query += ` AND flow = $1`
		args = append(args, *flow)
	}
	query += ` ORDER BY created_at ASC`
	items, err := r.collect(ctx, query, args...)
	if err != nil {
		return nil, upstream("list awaiting attendance", err)
	}
	return items, nil
}

func (r *triageRepoPG) ListByAdmission(ctx context.Context, admissionRef string, limit, offset int) ([]*TriageRecord, int, error) {
	return r.listPage(ctx, `admission_ref = $1`, limit, offset, admissionRef)
}

func (r *triageRepoPG) ListByPatient(ctx context.Context, patientRef string, limit, offset int) ([]*TriageRecord, int, error) {
	return r.listPage(ctx, `patient_ref = $1`, limit, offset, patientRef)
}

func (r *triageRepoPG) ListReclassified(ctx context.Context, limit, offset int) ([]*TriageRecord, int, error) {
	return r.listPage(ctx, `original_risk_level IS NOT NULL AND final_risk_level IS NOT NULL
		AND original_risk_level <> final_risk_level`, limit, offset)
}

func (r *triageRepoPG) ListInPeriod(ctx context.Context, start, end time.Time) ([]*TriageRecord, error) {
	items, err := r.collect(ctx, `SELECT `+triageCols+` FROM triage_record
		WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC`, start, end)
	if err != nil {
		return nil, upstream("list triage records in period", err)
	}
	return items, nil
}

func (r *triageRepoPG) listPage(ctx context.Context, where string, limit, offset int, args ...interface{}) ([]*TriageRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM triage_record WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, upstream("count triage records", err)
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM triage_record WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		triageCols, where, n+1, n+2)
	items, err := r.collect(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, upstream("list triage records", err)
	}
	return items, total, nil
}

func (r *triageRepoPG) collect(ctx context.Context, query string, args ...interface{}) ([]*TriageRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TriageRecord
	for rows.Next() {
		t, err := r.scanTriage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// =========== Admission Directory ===========

type admissionDirPG struct{ pool *pgxpool.Pool }

func NewAdmissionDirectoryPG(pool *pgxpool.Pool) AdmissionDirectory {
	return &admissionDirPG{pool: pool}
}

func (d *admissionDirPG) Get(ctx context.Context, ref string) (*Admission, error) {
	var a Admission
	err := connFor(ctx, d.pool).QueryRow(ctx,
		`SELECT ref, patient_ref, flow, arrived_at FROM admission WHERE ref = $1`, ref,
	).Scan(&a.Ref, &a.PatientRef, &a.Flow, &a.ArrivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: admission %s", ErrNotFound, ref)
		}
		return nil, upstream("get admission", err)
	}
	return &a, nil
}

func (d *admissionDirPG) ListAwaitingTriage(ctx context.Context, flow Flow) ([]*Admission, error) {
	rows, err := connFor(ctx, d.pool).Query(ctx, `
		SELECT a.ref, a.patient_ref, a.flow, a.arrived_at
		FROM admission a
		WHERE a.flow = $1 AND a.discharged_at IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM triage_record t
				WHERE t.admission_ref = a.ref AND NOT t.cancelled)
		ORDER BY a.arrived_at ASC`, flow)
	if err != nil {
		return nil, upstream("list admissions awaiting triage", err)
	}
	defer rows.Close()
	var items []*Admission
	for rows.Next() {
		var a Admission
		if err := rows.Scan(&a.Ref, &a.PatientRef, &a.Flow, &a.ArrivedAt); err != nil {
			return nil, upstream("scan admission", err)
		}
		items = append(items, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, upstream("iterate admissions", err)
	}
	return items, nil
}

// =========== Patient Directory ===========

type patientDirPG struct{ pool *pgxpool.Pool }

func NewPatientDirectoryPG(pool *pgxpool.Pool) PatientDirectory {
	return &patientDirPG{pool: pool}
}

func (d *patientDirPG) Get(ctx context.Context, ref string) (*Patient, error) {
	var p Patient
	err := connFor(ctx, d.pool).QueryRow(ctx,
		`SELECT ref, name, birth_date FROM patient WHERE ref = $1`, ref,
	).Scan(&p.Ref, &p.Name, &p.BirthDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: patient %s", ErrNotFound, ref)
		}
		return nil, upstream("get patient", err)
	}
	return &p, nil
}
