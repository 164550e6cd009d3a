package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// defaultLookupLimit bounds concurrent patient lookups per queue read.
const defaultLookupLimit = 8

// Intake is a triage submission.
type Intake struct {
	AdmissionRef  string           `json:"admission_ref"`
	Flow          Flow             `json:"flow,omitempty"`
	ComplaintText string           `json:"complaint_text"`
	ConsultReason ConsultReason    `json:"consult_reason,omitempty"`
	VitalSigns    VitalSigns       `json:"vital_signs"`
	WomenHealth   *WomenHealthData `json:"women_health,omitempty"`
	RiskLevel     *string          `json:"risk_level,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
	Allergies     *string          `json:"allergies,omitempty"`
}

type Service struct {
	catalog     *Catalog
	sla         *SLAEvaluator
	triage      TriageRepository
	admissions  AdmissionDirectory
	patients    PatientDirectory
	metrics     *Metrics
	logger      zerolog.Logger
	now         func() time.Time
	lookupLimit int
}

func NewService(catalog *Catalog, sla *SLAEvaluator, triage TriageRepository, admissions AdmissionDirectory, patients PatientDirectory, logger zerolog.Logger) *Service {
	return &Service{
		catalog:     catalog,
		sla:         sla,
		triage:      triage,
		admissions:  admissions,
		patients:    patients,
		metrics:     NewMetrics(nil),
		logger:      logger.With().Str("component", "triage-service").Logger(),
		now:         time.Now,
		lookupLimit: defaultLookupLimit,
	}
}

// SetMetrics attaches registered metrics to the service.
func (s *Service) SetMetrics(m *Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// SetClock overrides the time source used for waits and SLA evaluation.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Catalog returns the protocol catalog the service classifies against.
func (s *Service) Catalog() *Catalog { return s.catalog }

// -- Lifecycle --

func (s *Service) validateIntake(in *Intake) (*RiskLevel, error) {
	if strings.TrimSpace(in.AdmissionRef) == "" {
		return nil, fmt.Errorf("%w: admission_ref is required", ErrValidation)
	}
	if strings.TrimSpace(in.ComplaintText) == "" {
		return nil, fmt.Errorf("%w: complaint_text is required", ErrValidation)
	}
	if in.ConsultReason == "" {
		in.ConsultReason = ReasonConsultation
	}
	if !in.ConsultReason.valid() {
		return nil, fmt.Errorf("%w: unknown consult_reason %q", ErrValidation, in.ConsultReason)
	}
	if in.Flow != "" {
		if _, err := ParseFlow(string(in.Flow)); err != nil {
			return nil, err
		}
	}
	if err := in.VitalSigns.Validate(); err != nil {
		return nil, err
	}
	if err := in.WomenHealth.Validate(); err != nil {
		return nil, err
	}
	if in.RiskLevel == nil || strings.TrimSpace(*in.RiskLevel) == "" {
		return nil, nil
	}
	lvl, err := s.catalog.Risk.Parse(*in.RiskLevel)
	if err != nil {
		return nil, err
	}
	return &lvl, nil
}

// CreateTriage validates the intake, runs the matcher and the classification
// engine and persists the record. A second active triage for the same
// admission fails with ErrConflict.
func (s *Service) CreateTriage(ctx context.Context, in *Intake) (*TriageRecord, error) {
	manual, err := s.validateIntake(in)
	if err != nil {
		return nil, err
	}
	adm, err := s.admissions.Get(ctx, in.AdmissionRef)
	if err != nil {
		return nil, err
	}
	flow := in.Flow
	if flow == "" {
		flow = adm.Flow
	}
	if flow != adm.Flow {
		return nil, fmt.Errorf("%w: flow %q does not match admission flow %q", ErrValidation, flow, adm.Flow)
	}

	match, _ := s.catalog.Match(in.ComplaintText, in.VitalSigns)
	cl, err := s.catalog.Classify(manual, match, flow)
	if err != nil {
		return nil, err
	}

	t := &TriageRecord{
		AdmissionRef:  adm.Ref,
		PatientRef:    adm.PatientRef,
		Flow:          flow,
		ComplaintText: strings.TrimSpace(in.ComplaintText),
		ConsultReason: in.ConsultReason,
		VitalSigns:    in.VitalSigns,
		WomenHealth:   in.WomenHealth,
		Notes:         in.Notes,
		Allergies:     in.Allergies,
	}
	cl.Apply(t)

	if err := s.triage.Create(ctx, t); err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.ConflictsTotal.Inc()
		}
		return nil, err
	}

	protocol := "none"
	if match != nil {
		protocol = match.ProtocolID
	}
	source := cl.Source
	if cl.Deferred {
		source = "deferred"
	}
	s.metrics.ProtocolMatches.WithLabelValues(protocol).Inc()
	s.metrics.CreatedTotal.WithLabelValues(string(flow), source).Inc()

	evt := s.logger.Info().
		Str("triage_id", t.ID.String()).
		Str("admission_ref", t.AdmissionRef).
		Str("flow", string(flow)).
		Str("source", source).
		Str("protocol", protocol)
	if t.FinalRiskLevel != nil {
		evt = evt.Str("risk_level", string(*t.FinalRiskLevel))
	}
	evt.Msg("triage created")
	return t, nil
}

// CancelTriage marks a record cancelled. The reason is mandatory and the
// record stays available to audit and statistics.
func (s *Service) CancelTriage(ctx context.Context, id uuid.UUID, reason string) (*TriageRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: cancel reason is required", ErrValidation)
	}
	t, err := s.triage.Cancel(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	s.metrics.CancelledTotal.Inc()
	s.logger.Info().Str("triage_id", id.String()).Str("admission_ref", t.AdmissionRef).Msg("triage cancelled")
	return t, nil
}

// Reclassify sets the clinician's level. Only the final level changes, except
// for a deferred record which gets its original level on this first assignment.
func (s *Service) Reclassify(ctx context.Context, id uuid.UUID, level string, note *string) (*TriageRecord, error) {
	lvl, err := s.catalog.Risk.Parse(level)
	if err != nil {
		return nil, err
	}
	t, err := s.triage.Reclassify(ctx, id, lvl, note)
	if err != nil {
		return nil, err
	}
	s.metrics.ReclassifiedTotal.WithLabelValues(string(lvl)).Inc()
	s.logger.Info().
		Str("triage_id", id.String()).
		Str("risk_level", string(lvl)).
		Bool("reclassified", t.IsReclassified()).
		Msg("triage reclassified")
	return t, nil
}

// MarkAttended records the external attendance signal, which takes the record
// out of the awaiting-attendance queue.
func (s *Service) MarkAttended(ctx context.Context, id uuid.UUID) (*TriageRecord, error) {
	now := s.now()
	t, err := s.triage.MarkAttended(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if t.FinalRiskLevel != nil {
		lvl := *t.FinalRiskLevel
		if st, ok := s.sla.Evaluate(lvl, t.CreatedAt, now); ok {
			s.metrics.AttendedTotal.WithLabelValues(string(st)).Inc()
		}
		s.metrics.AttendanceWait.WithLabelValues(string(lvl)).Observe(now.Sub(t.CreatedAt).Minutes())
	} else {
		s.metrics.AttendedTotal.WithLabelValues(unclassifiedKey).Inc()
	}
	s.logger.Info().Str("triage_id", id.String()).Msg("triage attended")
	return t, nil
}

func (s *Service) GetTriage(ctx context.Context, id uuid.UUID) (*TriageRecord, error) {
	return s.triage.GetByID(ctx, id)
}

func (s *Service) ListByAdmission(ctx context.Context, admissionRef string, limit, offset int) ([]*TriageRecord, int, error) {
	return s.triage.ListByAdmission(ctx, admissionRef, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientRef string, limit, offset int) ([]*TriageRecord, int, error) {
	return s.triage.ListByPatient(ctx, patientRef, limit, offset)
}

func (s *Service) ListReclassified(ctx context.Context, limit, offset int) ([]*TriageRecord, int, error) {
	return s.triage.ListReclassified(ctx, limit, offset)
}

// -- Reference data and preview --

// AnalyzeComplaint previews the matcher and the vital alerts. Nothing is stored.
func (s *Service) AnalyzeComplaint(complaint string, vitals VitalSigns) (Analysis, error) {
	if err := vitals.Validate(); err != nil {
		return Analysis{}, err
	}
	return s.catalog.Analyze(complaint, vitals), nil
}

func (s *Service) ListProtocols() []Protocol {
	return s.catalog.Protocols()
}

func (s *Service) RiskLevels() []RiskLevelInfo {
	return s.catalog.Risk.Levels()
}

// -- Queues --

// ListAwaitingTriage returns the admissions of a flow still waiting for triage,
// in priority order. Upstream failures yield an empty queue.
func (s *Service) ListAwaitingTriage(ctx context.Context, flow Flow) ([]AwaitingTriageItem, error) {
	return s.listAwaitingTriage(ctx, flow, nil)
}

// ListAwaitingTriageOn is ListAwaitingTriage restricted to admissions that
// arrived on the calendar day of day, in the service's local zone.
func (s *Service) ListAwaitingTriageOn(ctx context.Context, flow Flow, day time.Time) ([]AwaitingTriageItem, error) {
	return s.listAwaitingTriage(ctx, flow, &day)
}

func (s *Service) listAwaitingTriage(ctx context.Context, flow Flow, day *time.Time) ([]AwaitingTriageItem, error) {
	if _, err := ParseFlow(string(flow)); err != nil {
		return nil, err
	}
	now := s.now()
	admissions, err := s.admissions.ListAwaitingTriage(ctx, flow)
	if err != nil {
		s.degraded("awaiting_triage", err)
		return []AwaitingTriageItem{}, nil
	}
	if day != nil {
		admissions = arrivedOn(admissions, *day, now.Location())
	}

	candidates := make([]TriageCandidate, len(admissions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.lookupLimit)
	for i, a := range admissions {
		candidates[i].Admission = *a
		g.Go(func() error {
			p, err := s.patients.Get(gctx, a.PatientRef)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				return err
			}
			candidates[i].Patient = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.degraded("awaiting_triage", err)
		return []AwaitingTriageItem{}, nil
	}

	items := PrioritizeAwaitingTriage(candidates, now)
	s.metrics.QueueLength.WithLabelValues("awaiting_triage", string(flow)).Set(float64(len(items)))
	return items, nil
}

// ListAwaitingAttendance returns classified-or-deferred records not yet
// attended, most urgent first, each with its live SLA status.
func (s *Service) ListAwaitingAttendance(ctx context.Context, flow *Flow) ([]AwaitingAttendanceItem, error) {
	label := "all"
	if flow != nil {
		if _, err := ParseFlow(string(*flow)); err != nil {
			return nil, err
		}
		label = string(*flow)
	}
	now := s.now()
	records, err := s.triage.ListAwaitingAttendance(ctx, flow)
	if err != nil {
		s.degraded("awaiting_attendance", err)
		return []AwaitingAttendanceItem{}, nil
	}
	items := OrderAwaitingAttendance(records, s.catalog.Risk, s.sla, now)
	s.metrics.QueueLength.WithLabelValues("awaiting_attendance", label).Set(float64(len(items)))
	return items, nil
}

// arrivedOn keeps the admissions that arrived on day's calendar date in loc.
func arrivedOn(admissions []*Admission, day time.Time, loc *time.Location) []*Admission {
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 1)
	kept := admissions[:0:0]
	for _, a := range admissions {
		if !a.ArrivedAt.Before(from) && a.ArrivedAt.Before(to) {
			kept = append(kept, a)
		}
	}
	return kept
}

func (s *Service) degraded(queue string, err error) {
	s.metrics.QueueDegradedTotal.WithLabelValues(queue).Inc()
	s.logger.Warn().Err(err).Str("queue", queue).Msg("queue read degraded to empty result")
}

// -- Statistics --

// Statistics summarizes the triages created in [start, end).
func (s *Service) Statistics(ctx context.Context, start, end time.Time) (Statistics, error) {
	if !end.After(start) {
		return Statistics{}, fmt.Errorf("%w: period end must be after start", ErrValidation)
	}
	records, err := s.triage.ListInPeriod(ctx, start, end)
	if err != nil {
		return Statistics{}, err
	}
	return ComputeStatistics(records, s.catalog.Risk, start, end), nil
}

// ProtocolTriage is one record of the per-protocol audit listing.
type ProtocolTriage struct {
	ID                 uuid.UUID  `json:"id"`
	AdmissionRef       string     `json:"admission_ref"`
	PatientRef         string     `json:"patient_ref"`
	CreatedAt          time.Time  `json:"created_at"`
	ComplaintText      string     `json:"complaint_text"`
	OriginalRiskLevel  *RiskLevel `json:"original_risk_level,omitempty"`
	FinalRiskLevel     *RiskLevel `json:"final_risk_level,omitempty"`
	Reclassified       bool       `json:"reclassified"`
	AppliedProtocolRef string     `json:"applied_protocol_ref"`
	SuggestedConduct   *string    `json:"suggested_conduct,omitempty"`
	Cancelled          bool       `json:"cancelled"`
}

// ListByProtocol returns the triages created in [start, end) that had the
// protocol applied, oldest first.
func (s *Service) ListByProtocol(ctx context.Context, protocolID string, start, end time.Time) ([]ProtocolTriage, error) {
	if _, ok := s.catalog.Protocol(protocolID); !ok {
		return nil, fmt.Errorf("%w: protocol %q", ErrNotFound, protocolID)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: period end must be after start", ErrValidation)
	}
	records, err := s.triage.ListInPeriod(ctx, start, end)
	if err != nil {
		return nil, err
	}
	items := []ProtocolTriage{}
	for _, r := range records {
		if r.AppliedProtocolRef == nil || *r.AppliedProtocolRef != protocolID {
			continue
		}
		items = append(items, ProtocolTriage{
			ID:                 r.ID,
			AdmissionRef:       r.AdmissionRef,
			PatientRef:         r.PatientRef,
			CreatedAt:          r.CreatedAt,
			ComplaintText:      r.ComplaintText,
			OriginalRiskLevel:  r.OriginalRiskLevel,
			FinalRiskLevel:     r.FinalRiskLevel,
			Reclassified:       r.IsReclassified(),
			AppliedProtocolRef: *r.AppliedProtocolRef,
			SuggestedConduct:   r.SuggestedConduct,
			Cancelled:          r.Cancelled,
		})
	}
	return items, nil
}
