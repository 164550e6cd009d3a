package triage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Flow distinguishes the two intake paths.
type Flow string

const (
	FlowEmergencyUnit Flow = "emergency_unit"
	FlowAmbulatory    Flow = "ambulatory"
)

// ParseFlow accepts the flow names used on the wire.
func ParseFlow(s string) (Flow, error) {
	switch Flow(s) {
	case FlowEmergencyUnit, FlowAmbulatory:
		return Flow(s), nil
	}
	return "", fmt.Errorf("%w: flow must be %q or %q", ErrValidation, FlowEmergencyUnit, FlowAmbulatory)
}

// ConsultReason is why the patient came in.
type ConsultReason string

const (
	ReasonConsultation ConsultReason = "consultation"
	ReasonFollowUp     ConsultReason = "follow_up"
	ReasonPrenatal     ConsultReason = "prenatal"
	ReasonReception    ConsultReason = "reception"
	ReasonPapSmear     ConsultReason = "pap_smear"
	ReasonPostpartum   ConsultReason = "postpartum"
)

func (r ConsultReason) valid() bool {
	switch r {
	case ReasonConsultation, ReasonFollowUp, ReasonPrenatal, ReasonReception, ReasonPapSmear, ReasonPostpartum:
		return true
	}
	return false
}

// VitalSigns holds the measurements taken at intake. Nil means not measured.
type VitalSigns struct {
	BloodPressure    *string  `json:"blood_pressure,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	Weight           *float64 `json:"weight,omitempty"`
	Height           *float64 `json:"height,omitempty"`
	HeartRate        *int     `json:"heart_rate,omitempty"`
	RespiratoryRate  *int     `json:"respiratory_rate,omitempty"`
	OxygenSaturation *int     `json:"oxygen_saturation,omitempty"`
	PainScale        *int     `json:"pain_scale,omitempty"`
}

// WomenHealthData is the optional obstetric block of an intake.
type WomenHealthData struct {
	LastMenstrualPeriod *time.Time `json:"last_menstrual_period,omitempty"`
	IsPregnant          bool       `json:"is_pregnant"`
	GestationWeeks      *int       `json:"gestation_weeks,omitempty"`
}

// TriageRecord maps to the triage_record table.
type TriageRecord struct {
	ID                 uuid.UUID        `json:"id"`
	AdmissionRef       string           `json:"admission_ref"`
	PatientRef         string           `json:"patient_ref"`
	Flow               Flow             `json:"flow"`
	ComplaintText      string           `json:"complaint_text"`
	ConsultReason      ConsultReason    `json:"consult_reason"`
	VitalSigns         VitalSigns       `json:"vital_signs"`
	WomenHealth        *WomenHealthData `json:"women_health,omitempty"`
	OriginalRiskLevel  *RiskLevel       `json:"original_risk_level,omitempty"`
	FinalRiskLevel     *RiskLevel       `json:"final_risk_level,omitempty"`
	AppliedProtocolRef *string          `json:"applied_protocol_ref,omitempty"`
	SuggestedConduct   *string          `json:"suggested_conduct,omitempty"`
	SuggestedDiagnoses []string         `json:"suggested_diagnoses,omitempty"`
	Notes              *string          `json:"notes,omitempty"`
	Allergies          *string          `json:"allergies,omitempty"`
	Cancelled          bool             `json:"cancelled"`
	CancelReason       *string          `json:"cancel_reason,omitempty"`
	AttendedAt         *time.Time       `json:"attended_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// IsEmergencyUnitFlow reports whether the record came through the emergency unit.
func (t *TriageRecord) IsEmergencyUnitFlow() bool {
	return t.Flow == FlowEmergencyUnit
}

// IsReclassified is derived from the two level fields and never stored.
func (t *TriageRecord) IsReclassified() bool {
	if t.OriginalRiskLevel == nil || t.FinalRiskLevel == nil {
		return false
	}
	return *t.OriginalRiskLevel != *t.FinalRiskLevel
}

// IsActive reports whether the record still blocks a new triage for its admission.
func (t *TriageRecord) IsActive() bool {
	return !t.Cancelled
}

// IsTerminal reports whether the record was cancelled or attended.
func (t *TriageRecord) IsTerminal() bool {
	return t.Cancelled || t.AttendedAt != nil
}

// Admission is the external visit a triage attaches to.
type Admission struct {
	Ref        string    `json:"admission_ref"`
	PatientRef string    `json:"patient_ref"`
	Flow       Flow      `json:"flow"`
	ArrivedAt  time.Time `json:"arrived_at"`
}

// Patient is the slice of patient identity the queues need.
type Patient struct {
	Ref       string     `json:"patient_ref"`
	Name      string     `json:"name"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
}

// AgeAt returns the age in whole years at now, or false when the birth date is unknown.
func (p *Patient) AgeAt(now time.Time) (int, bool) {
	if p == nil || p.BirthDate == nil {
		return 0, false
	}
	// A birth date is a calendar date; converting its zone would move the day.
	by, bm, bd := p.BirthDate.Date()
	ny, nm, nd := now.Date()
	age := ny - by
	if nm < bm || (nm == bm && nd < bd) {
		age--
	}
	return age, true
}
