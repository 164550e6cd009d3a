package triage

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

var queueNow = time.Date(2026, 5, 10, 14, 0, 0, 0, time.UTC)

func birthForAge(age int) *time.Time {
	b := queueNow.AddDate(-age, 0, -1)
	return &b
}

func candidate(ref string, age int, waited time.Duration) TriageCandidate {
	c := TriageCandidate{
		Admission: Admission{Ref: ref, PatientRef: "p-" + ref, Flow: FlowEmergencyUnit, ArrivedAt: queueNow.Add(-waited)},
	}
	if age >= 0 {
		c.Patient = &Patient{Ref: "p-" + ref, Name: "Patient " + ref, BirthDate: birthForAge(age)}
	}
	return c
}

func TestPrioritizeAwaitingTriage_ChildAheadOfAdult(t *testing.T) {
	items := PrioritizeAwaitingTriage([]TriageCandidate{
		candidate("adult", 40, 30*time.Minute),
		candidate("child", 5, 30*time.Minute),
	}, queueNow)

	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].AdmissionRef != "child" || items[0].Bucket != BucketAgeRisk {
		t.Errorf("first = %+v, want child in bucket 1", items[0])
	}
	if items[1].Bucket != BucketNormal {
		t.Errorf("adult bucket = %d, want %d", items[1].Bucket, BucketNormal)
	}
}

func TestPrioritizeAwaitingTriage_Buckets(t *testing.T) {
	tests := []struct {
		name   string
		age    int
		waited time.Duration
		want   int
	}{
		{"child boundary", 12, 0, BucketAgeRisk},
		{"teen", 13, 0, BucketNormal},
		{"elderly boundary", 60, 0, BucketAgeRisk},
		{"elderly beats long wait", 75, 300 * time.Minute, BucketAgeRisk},
		{"long wait", 30, 121 * time.Minute, BucketLongWait},
		{"two hours is medium", 30, 120 * time.Minute, BucketMediumWait},
		{"one hour is medium", 30, 60 * time.Minute, BucketMediumWait},
		{"short wait", 30, 59 * time.Minute, BucketNormal},
		{"unknown age uses wait", -1, 130 * time.Minute, BucketLongWait},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := PrioritizeAwaitingTriage([]TriageCandidate{candidate("a", tt.age, tt.waited)}, queueNow)
			if items[0].Bucket != tt.want {
				t.Errorf("bucket = %d, want %d", items[0].Bucket, tt.want)
			}
			if items[0].PriorityLabel == "" {
				t.Error("expected a priority label")
			}
		})
	}
}

func TestPrioritizeAwaitingTriage_FIFOWithinBucket(t *testing.T) {
	items := PrioritizeAwaitingTriage([]TriageCandidate{
		candidate("late", 30, 10*time.Minute),
		candidate("early", 30, 20*time.Minute),
		candidate("long", 30, 150*time.Minute),
	}, queueNow)

	got := []string{items[0].AdmissionRef, items[1].AdmissionRef, items[2].AdmissionRef}
	want := []string{"long", "early", "late"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if items[1].WaitMinutes != 20 {
		t.Errorf("wait minutes = %d, want 20", items[1].WaitMinutes)
	}
	if items[1].Age == nil || *items[1].Age != 30 {
		t.Errorf("age = %v, want 30", items[1].Age)
	}
}

func TestPrioritizeAwaitingTriage_RecomputedOnRead(t *testing.T) {
	cands := []TriageCandidate{
		candidate("a", 30, 50*time.Minute),
		candidate("b", 30, 10*time.Minute),
	}
	first := PrioritizeAwaitingTriage(cands, queueNow)
	if first[0].Bucket != BucketNormal {
		t.Fatalf("bucket = %d, want normal", first[0].Bucket)
	}
	later := PrioritizeAwaitingTriage(cands, queueNow.Add(90*time.Minute))
	if later[0].AdmissionRef != "a" || later[0].Bucket != BucketLongWait {
		t.Errorf("after 90 more minutes a should be long_wait, got %+v", later[0])
	}
	if later[1].Bucket != BucketMediumWait {
		t.Errorf("b bucket = %d, want medium_wait", later[1].Bucket)
	}
}

func record(level *RiskLevel, createdAgo time.Duration) *TriageRecord {
	r := &TriageRecord{ID: uuid.New(), Flow: FlowEmergencyUnit, CreatedAt: queueNow.Add(-createdAgo)}
	if level != nil {
		orig, final := *level, *level
		r.OriginalRiskLevel, r.FinalRiskLevel = &orig, &final
	}
	return r
}

func TestOrderAwaitingAttendance_TotalOrder(t *testing.T) {
	c := mustCatalog(t)
	sla := mustSLA(t, DefaultGracePercent)

	yellowOld := record(ptr(LevelUrgent), 50*time.Minute)
	yellowNew := record(ptr(LevelUrgent), 5*time.Minute)
	red := record(ptr(LevelImmediate), 1*time.Minute)
	blue := record(ptr(LevelNonUrgent), 200*time.Minute)
	deferred := record(nil, 300*time.Minute)
	cancelled := record(ptr(LevelImmediate), 2*time.Minute)
	cancelled.Cancelled = true
	attended := record(ptr(LevelImmediate), 3*time.Minute)
	attended.AttendedAt = &queueNow

	items := OrderAwaitingAttendance([]*TriageRecord{blue, deferred, yellowNew, cancelled, red, attended, yellowOld}, c.Risk, sla, queueNow)

	want := []*TriageRecord{red, yellowOld, yellowNew, blue, deferred}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, w := range want {
		if items[i].ID != w.ID {
			t.Errorf("position %d = %s, want %s", i, items[i].ID, w.ID)
		}
	}
	for i := 1; i < len(items); i++ {
		a, b := items[i-1], items[i]
		if a.PriorityRank > b.PriorityRank || (a.PriorityRank == b.PriorityRank && a.CreatedAt.After(b.CreatedAt)) {
			t.Errorf("items %d and %d out of order", i-1, i)
		}
	}
}

func TestOrderAwaitingAttendance_SLAStatus(t *testing.T) {
	c := mustCatalog(t)
	sla := mustSLA(t, DefaultGracePercent)

	items := OrderAwaitingAttendance([]*TriageRecord{
		record(ptr(LevelUrgent), 30*time.Minute),
		record(ptr(LevelVeryUrgent), 11*time.Minute),
		record(ptr(LevelImmediate), 5*time.Minute),
		record(nil, 5*time.Minute),
	}, c.Risk, sla, queueNow)

	want := map[int]SLAStatus{0: SLABreached, 1: SLAWarning, 2: SLANormal}
	for i, st := range want {
		if items[i].SLAStatus == nil || *items[i].SLAStatus != st {
			t.Errorf("item %d SLA = %v, want %s", i, items[i].SLAStatus, st)
		}
	}
	if items[3].SLAStatus != nil {
		t.Errorf("unclassified item must have no SLA status, got %s", *items[3].SLAStatus)
	}
	if items[3].PriorityRank != unclassifiedRank {
		t.Errorf("unclassified rank = %d", items[3].PriorityRank)
	}
	if items[0].Color != "red" || items[0].WaitMinutes != 5 {
		t.Errorf("item 0 color/wait = %s/%d", items[0].Color, items[0].WaitMinutes)
	}
}

func TestPatientAgeAt_CalendarDateAcrossZones(t *testing.T) {
	// DATE columns scan as UTC midnight; the clock runs three hours behind.
	brt := time.FixedZone("BRT", -3*60*60)
	birth := time.Date(2013, 10, 18, 0, 0, 0, 0, time.UTC)
	p := &Patient{Ref: "p", BirthDate: &birth}

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"birthday eve morning", time.Date(2026, 10, 17, 10, 0, 0, 0, brt), 12},
		{"birthday eve late night", time.Date(2026, 10, 17, 23, 59, 0, 0, brt), 12},
		{"birthday", time.Date(2026, 10, 18, 0, 30, 0, 0, brt), 13},
		{"birthday in UTC", time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			age, ok := p.AgeAt(tt.now)
			if !ok || age != tt.want {
				t.Errorf("AgeAt = %d, %v; want %d", age, ok, tt.want)
			}
		})
	}

	now := time.Date(2026, 10, 17, 10, 0, 0, 0, brt)
	items := PrioritizeAwaitingTriage([]TriageCandidate{{
		Admission: Admission{Ref: "a", PatientRef: "p", Flow: FlowEmergencyUnit, ArrivedAt: now.Add(-5 * time.Minute)},
		Patient:   p,
	}}, now)
	if items[0].Bucket != BucketAgeRisk {
		t.Errorf("child on the eve of turning 13: bucket = %d, want %d", items[0].Bucket, BucketAgeRisk)
	}

	if _, ok := (&Patient{Ref: "x"}).AgeAt(now); ok {
		t.Error("unknown birth date must report false")
	}
}
