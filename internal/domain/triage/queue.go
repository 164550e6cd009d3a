package triage

import (
	"sort"
	"time"
)

// Awaiting-triage priority buckets, most urgent first.
const (
	BucketAgeRisk    = 1
	BucketLongWait   = 2
	BucketMediumWait = 3
	BucketNormal     = 4
)

var bucketLabels = map[int]string{
	BucketAgeRisk:    "elderly_or_child",
	BucketLongWait:   "long_wait",
	BucketMediumWait: "medium_wait",
	BucketNormal:     "normal",
}

const (
	childMaxAge      = 12
	elderlyMinAge    = 60
	longWaitMinutes  = 120
	mediumWaitMinute = 60
)

// TriageCandidate is an admission still waiting for its triage, with the
// patient identity when the lookup found one.
type TriageCandidate struct {
	Admission Admission
	Patient   *Patient
}

// AwaitingTriageItem is one row of the awaiting-triage projection.
type AwaitingTriageItem struct {
	AdmissionRef  string    `json:"admission_ref"`
	PatientRef    string    `json:"patient_ref"`
	PatientName   string    `json:"patient_name,omitempty"`
	Age           *int      `json:"age,omitempty"`
	Flow          Flow      `json:"flow"`
	ArrivedAt     time.Time `json:"arrived_at"`
	WaitMinutes   int       `json:"wait_minutes"`
	Bucket        int       `json:"priority_bucket"`
	PriorityLabel string    `json:"priority_label"`
}

// triageBucket applies the buckets in precedence order: age overrides wait.
func triageBucket(age *int, wait time.Duration) int {
	if age != nil && (*age <= childMaxAge || *age >= elderlyMinAge) {
		return BucketAgeRisk
	}
	switch mins := wait.Minutes(); {
	case mins > longWaitMinutes:
		return BucketLongWait
	case mins >= mediumWaitMinute:
		return BucketMediumWait
	}
	return BucketNormal
}

// PrioritizeAwaitingTriage orders candidates by bucket, then arrival (FIFO).
// It is recomputed on every read; nothing here is persisted.
func PrioritizeAwaitingTriage(candidates []TriageCandidate, now time.Time) []AwaitingTriageItem {
	items := make([]AwaitingTriageItem, 0, len(candidates))
	for _, c := range candidates {
		wait := now.Sub(c.Admission.ArrivedAt)
		if wait < 0 {
			wait = 0
		}
		item := AwaitingTriageItem{
			AdmissionRef: c.Admission.Ref,
			PatientRef:   c.Admission.PatientRef,
			Flow:         c.Admission.Flow,
			ArrivedAt:    c.Admission.ArrivedAt,
			WaitMinutes:  int(wait / time.Minute),
		}
		if c.Patient != nil {
			item.PatientName = c.Patient.Name
			if age, ok := c.Patient.AgeAt(now); ok {
				item.Age = &age
			}
		}
		item.Bucket = triageBucket(item.Age, wait)
		item.PriorityLabel = bucketLabels[item.Bucket]
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Bucket != b.Bucket {
			return a.Bucket < b.Bucket
		}
		if !a.ArrivedAt.Equal(b.ArrivedAt) {
			return a.ArrivedAt.Before(b.ArrivedAt)
		}
		return a.AdmissionRef < b.AdmissionRef
	})
	return items
}

// AwaitingAttendanceItem is one row of the awaiting-attendance projection.
type AwaitingAttendanceItem struct {
	*TriageRecord
	PriorityRank   int        `json:"priority_rank"`
	Color          string     `json:"color,omitempty"`
	WaitMinutes    int        `json:"wait_minutes"`
	SLAStatus      *SLAStatus `json:"sla_status,omitempty"`
	IsReclassified bool       `json:"is_reclassified"`
}

// OrderAwaitingAttendance keeps the non-cancelled, unattended records and
// orders them by final level rank, then triage time. Each row carries its live
// SLA status.
func OrderAwaitingAttendance(records []*TriageRecord, risk *RiskTable, sla *SLAEvaluator, now time.Time) []AwaitingAttendanceItem {
	items := make([]AwaitingAttendanceItem, 0, len(records))
	for _, r := range records {
		if r == nil || r.IsTerminal() {
			continue
		}
		item := AwaitingAttendanceItem{
			TriageRecord:   r,
			PriorityRank:   risk.Rank(r.FinalRiskLevel),
			IsReclassified: r.IsReclassified(),
		}
		if wait := now.Sub(r.CreatedAt); wait > 0 {
			item.WaitMinutes = int(wait / time.Minute)
		}
		if r.FinalRiskLevel != nil {
			if info, ok := risk.Info(*r.FinalRiskLevel); ok {
				item.Color = info.Color
			}
			if st, ok := sla.Evaluate(*r.FinalRiskLevel, r.CreatedAt, now); ok {
				item.SLAStatus = &st
			}
		}
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.PriorityRank != b.PriorityRank {
			return a.PriorityRank < b.PriorityRank
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return items
}
