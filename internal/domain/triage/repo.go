package triage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TriageRepository persists triage records. Create must enforce the
// one-active-record-per-admission rule atomically and report ErrConflict.
// State changes are conditional updates: they return ErrNotFound for an unknown
// id and ErrConflict when the record is already terminal.
type TriageRepository interface {
	Create(ctx context.Context, t *TriageRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*TriageRecord, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*TriageRecord, error)
	Reclassify(ctx context.Context, id uuid.UUID, level RiskLevel, note *string) (*TriageRecord, error)
	MarkAttended(ctx context.Context, id uuid.UUID, at time.Time) (*TriageRecord, error)
	ListAwaitingAttendance(ctx context.Context, flow *Flow) ([]*TriageRecord, error)
	ListByAdmission(ctx context.Context, admissionRef string, limit, offset int) ([]*TriageRecord, int, error)
	ListByPatient(ctx context.Context, patientRef string, limit, offset int) ([]*TriageRecord, int, error)
	ListReclassified(ctx context.Context, limit, offset int) ([]*TriageRecord, int, error)
	ListInPeriod(ctx context.Context, start, end time.Time) ([]*TriageRecord, error)
}

// AdmissionDirectory is the external admission registry.
type AdmissionDirectory interface {
	Get(ctx context.Context, ref string) (*Admission, error)
	// ListAwaitingTriage returns admissions of the flow without an active triage.
	ListAwaitingTriage(ctx context.Context, flow Flow) ([]*Admission, error)
}

// PatientDirectory is the external patient registry.
type PatientDirectory interface {
	Get(ctx context.Context, ref string) (*Patient, error)
}
