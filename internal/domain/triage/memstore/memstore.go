// Package memstore provides in-memory implementations of the triage
// repository and of the admission and patient directories. Suitable for
// dev/testing and for the STORE_DRIVER=memory mode.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/triage/internal/domain/triage"
)

// Store keeps triage records, admissions and patients behind one lock so the
// active-triage check and the insert happen atomically.
type Store struct {
	mu         sync.RWMutex
	records    map[uuid.UUID]*triage.TriageRecord
	active     map[string]uuid.UUID // admission ref -> active (non-cancelled) triage ID
	admissions map[string]*triage.Admission
	patients   map[string]*triage.Patient
	now        func() time.Time
}

// New initializes an empty Store.
func New() *Store {
	return &Store{
		records:    make(map[uuid.UUID]*triage.TriageRecord),
		active:     make(map[string]uuid.UUID),
		admissions: make(map[string]*triage.Admission),
		patients:   make(map[string]*triage.Patient),
		now:        time.Now,
	}
}

// SetClock overrides the timestamp source used for created_at/updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Triage returns the store as a TriageRepository.
func (s *Store) Triage() triage.TriageRepository { return (*triageRepo)(s) }

// Admissions returns the store as an AdmissionDirectory.
func (s *Store) Admissions() triage.AdmissionDirectory { return (*admissionDir)(s) }

// Patients returns the store as a PatientDirectory.
func (s *Store) Patients() triage.PatientDirectory { return (*patientDir)(s) }

// PutAdmission registers or replaces an admission.
func (s *Store) PutAdmission(a *triage.Admission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.admissions[a.Ref] = &cp
}

// PutPatient registers or replaces a patient.
func (s *Store) PutPatient(p *triage.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.patients[p.Ref] = &cp
}

func copyRecord(r *triage.TriageRecord) *triage.TriageRecord {
	cp := *r
	if r.SuggestedDiagnoses != nil {
		cp.SuggestedDiagnoses = append([]string(nil), r.SuggestedDiagnoses...)
	}
	if r.WomenHealth != nil {
		wh := *r.WomenHealth
		cp.WomenHealth = &wh
	}
	return &cp
}

// =========== Triage Repository ===========

type triageRepo Store

func (r *triageRepo) Create(_ context.Context, t *triage.TriageRecord) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.active[t.AdmissionRef]; ok {
		return fmt.Errorf("%w: admission %s already has active triage %s", triage.ErrConflict, t.AdmissionRef, id)
	}
	t.ID = uuid.New()
	now := s.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.records[t.ID] = copyRecord(t)
	s.active[t.AdmissionRef] = t.ID
	return nil
}

func (r *triageRepo) GetByID(_ context.Context, id uuid.UUID) (*triage.TriageRecord, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: triage record %s", triage.ErrNotFound, id)
	}
	return copyRecord(rec), nil
}

// mutate applies fn to a non-terminal record under the write lock.
func (r *triageRepo) mutate(id uuid.UUID, fn func(rec *triage.TriageRecord)) (*triage.TriageRecord, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: triage record %s", triage.ErrNotFound, id)
	}
	if rec.Cancelled {
		return nil, fmt.Errorf("%w: triage record %s is cancelled", triage.ErrConflict, id)
	}
	if rec.AttendedAt != nil {
		return nil, fmt.Errorf("%w: triage record %s was already attended", triage.ErrConflict, id)
	}
	next := copyRecord(rec)
	fn(next)
	next.UpdatedAt = s.now()
	s.records[id] = next
	if next.Cancelled {
		delete(s.active, next.AdmissionRef)
	}
	return copyRecord(next), nil
}

func (r *triageRepo) Cancel(_ context.Context, id uuid.UUID, reason string) (*triage.TriageRecord, error) {
	return r.mutate(id, func(rec *triage.TriageRecord) {
		rec.Cancelled = true
		rec.CancelReason = &reason
	})
}

func (r *triageRepo) Reclassify(_ context.Context, id uuid.UUID, level triage.RiskLevel, note *string) (*triage.TriageRecord, error) {
	return r.mutate(id, func(rec *triage.TriageRecord) {
		triage.Reclassify(rec, level)
		if note != nil && *note != "" {
			rec.Notes = appendNote(rec.Notes, *note)
		}
	})
}

func appendNote(notes *string, note string) *string {
	if notes == nil || *notes == "" {
		return &note
	}
	joined := *notes + "\n" + note
	return &joined
}

func (r *triageRepo) MarkAttended(_ context.Context, id uuid.UUID, at time.Time) (*triage.TriageRecord, error) {
	return r.mutate(id, func(rec *triage.TriageRecord) {
		rec.AttendedAt = &at
	})
}

func (r *triageRepo) ListAwaitingAttendance(_ context.Context, flow *triage.Flow) ([]*triage.TriageRecord, error) {
	return r.filter(func(rec *triage.TriageRecord) bool {
		return !rec.IsTerminal() && (flow == nil || rec.Flow == *flow)
	}), nil
}

func (r *triageRepo) ListByAdmission(_ context.Context, admissionRef string, limit, offset int) ([]*triage.TriageRecord, int, error) {
	items := r.filter(func(rec *triage.TriageRecord) bool { return rec.AdmissionRef == admissionRef })
	return page(newestFirst(items), limit, offset)
}

func (r *triageRepo) ListByPatient(_ context.Context, patientRef string, limit, offset int) ([]*triage.TriageRecord, int, error) {
	items := r.filter(func(rec *triage.TriageRecord) bool { return rec.PatientRef == patientRef })
	return page(newestFirst(items), limit, offset)
}

func (r *triageRepo) ListReclassified(_ context.Context, limit, offset int) ([]*triage.TriageRecord, int, error) {
	items := r.filter(func(rec *triage.TriageRecord) bool { return rec.IsReclassified() })
	return page(newestFirst(items), limit, offset)
}

func (r *triageRepo) ListInPeriod(_ context.Context, start, end time.Time) ([]*triage.TriageRecord, error) {
	return r.filter(func(rec *triage.TriageRecord) bool {
		return !rec.CreatedAt.Before(start) && rec.CreatedAt.Before(end)
	}), nil
}

func (r *triageRepo) filter(keep func(*triage.TriageRecord) bool) []*triage.TriageRecord {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.TriageRecord
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func newestFirst(items []*triage.TriageRecord) []*triage.TriageRecord {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items
}

func page(items []*triage.TriageRecord, limit, offset int) ([]*triage.TriageRecord, int, error) {
	total := len(items)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return items[offset:end], total, nil
}

// =========== Directories ===========

type admissionDir Store

func (d *admissionDir) Get(_ context.Context, ref string) (*triage.Admission, error) {
	s := (*Store)(d)
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.admissions[ref]
	if !ok {
		return nil, fmt.Errorf("%w: admission %s", triage.ErrNotFound, ref)
	}
	cp := *a
	return &cp, nil
}

func (d *admissionDir) ListAwaitingTriage(_ context.Context, flow triage.Flow) ([]*triage.Admission, error) {
	s := (*Store)(d)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.Admission
	for ref, a := range s.admissions {
		if a.Flow != flow {
			continue
		}
		if _, busy := s.active[ref]; busy {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArrivedAt.Before(out[j].ArrivedAt) })
	return out, nil
}

type patientDir Store

func (d *patientDir) Get(_ context.Context, ref string) (*triage.Patient, error) {
	s := (*Store)(d)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[ref]
	if !ok {
		return nil, fmt.Errorf("%w: patient %s", triage.ErrNotFound, ref)
	}
	cp := *p
	return &cp, nil
}
